package http

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(max int) RetryConfig {
	return RetryConfig{
		MaxRetries:   max,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestExecuteWithRetry(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		calls := 0
		err := ExecuteWithRetry(context.Background(), fastRetry(3), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("FatalNotRetried", func(t *testing.T) {
		calls := 0
		err := ExecuteWithRetry(context.Background(), fastRetry(5), func() error {
			calls++
			return fmt.Errorf("AccessDenied: 403")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("RetryThenSuccess", func(t *testing.T) {
		calls := 0
		retries := 0
		cfg := fastRetry(5)
		cfg.OnRetry = func(int, error, ErrorType) { retries++ }

		err := ExecuteWithRetry(context.Background(), cfg, func() error {
			calls++
			if calls < 3 {
				return errors.New("503 ServiceUnavailable")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, retries)
	})

	t.Run("Exhausted", func(t *testing.T) {
		calls := 0
		err := ExecuteWithRetry(context.Background(), fastRetry(3), func() error {
			calls++
			return errors.New("connection reset by peer")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})

	t.Run("ContextCancelledDuringSleep", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := RetryConfig{MaxRetries: 5, InitialDelay: 5 * time.Second, MaxDelay: 30 * time.Second}

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := ExecuteWithRetry(ctx, cfg, func() error {
			return errors.New("connection reset")
		})
		require.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorType
	}{
		{nil, ErrorTypeSuccess},
		{errors.New("dial tcp: connection refused"), ErrorTypeNetwork},
		{errors.New("SlowDown: reduce your request rate"), ErrorTypeRetryable},
		{errors.New("ServerBusy"), ErrorTypeRetryable},
		{errors.New("NoSuchBucket"), ErrorTypeFatal},
		{context.Canceled, ErrorTypeFatal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyError(tc.err), "%v", tc.err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	assert.Zero(t, CalculateBackoff(0, time.Second, time.Minute))
	for attempt := 1; attempt < 40; attempt++ {
		d := CalculateBackoff(attempt, 100*time.Millisecond, time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestErrorTypeName(t *testing.T) {
	assert.Equal(t, "network", ErrorTypeName(ErrorTypeNetwork))
	assert.Equal(t, "unknown", ErrorTypeName(ErrorType(42)))
}
