package http

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/GenomiqueENS/aozan/internal/constants"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeNetwork indicates connection issues (timeouts, resets, refused)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server side failures and throttling
	ErrorTypeRetryable
	// ErrorTypeFatal indicates errors a retry cannot fix (bad request, denied access)
	ErrorTypeFatal
)

// RetryConfig holds retry parameters for ExecuteWithRetry
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// OnRetry is invoked before each new attempt.
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// DefaultRetryConfig returns the retry policy of archive uploads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   constants.MaxRetries,
		InitialDelay: constants.RetryInitialDelay,
		MaxDelay:     constants.RetryMaxDelay,
	}
}

// ClassifyError determines the error type for retry strategy
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "i/o timeout", "tls handshake timeout", "unexpected eof"} {
		if strings.Contains(msg, s) {
			return ErrorTypeNetwork
		}
	}
	// S3 and Azure server side codes
	for _, s := range []string{"requesttimeout", "internalerror", "serviceunavailable", "slowdown", "serverbusy", "operationtimedout", "throttl", "429", "500", "502", "503", "504"} {
		if strings.Contains(msg, s) {
			return ErrorTypeRetryable
		}
	}
	return ErrorTypeFatal
}

// CalculateBackoff returns exponential backoff with full jitter:
// random(0, min(maxDelay, initialDelay * 2^attempt)).
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	base := time.Duration(1<<uint(attempt)) * initialDelay
	if base > maxDelay || base <= 0 {
		base = maxDelay
	}
	return time.Duration(rand.Int63n(int64(base) + 1))
}

// ExecuteWithRetry runs operation until it succeeds, fails with a fatal
// error, runs out of attempts or ctx is done.
func ExecuteWithRetry(ctx context.Context, cfg RetryConfig, operation func() error) error {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		errType := ClassifyError(err)
		if errType == ErrorTypeFatal {
			return err
		}
		if attempt == cfg.MaxRetries-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, errType)
		}

		timer := time.NewTimer(CalculateBackoff(attempt+1, cfg.InitialDelay, cfg.MaxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
