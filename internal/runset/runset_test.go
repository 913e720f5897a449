package runset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("MissingFile", func(t *testing.T) {
		set, err := Load(filepath.Join(dir, "absent.done"))
		require.NoError(t, err)
		assert.Empty(t, set)
	})

	t.Run("TrimsAndSkipsEmptyLines", func(t *testing.T) {
		path := filepath.Join(dir, "sync.done")
		content := "run_a\n\n  run_b  \n\t\nrun_a\nrun_c"
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		set, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"run_a", "run_b", "run_c"}, set.Sorted())
	})
}

func TestAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demux.done")
	f := Open(path)

	require.NoError(t, f.Append("run_1"))
	require.NoError(t, f.Append(" run_2 "))
	assert.Error(t, f.Append("   "))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "run_1\nrun_2\n", string(data))

	set, err := f.Load()
	require.NoError(t, err)
	assert.True(t, set.Contains("run_1"))
	assert.True(t, set.Contains("run_2"))
}

func TestAppend_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qc.done")
	const n = 64

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each writer opens its own descriptor, like separate processes.
			errs <- Open(path).Append(fmt.Sprintf("run_%03d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Len(t, lines, n)
	for _, l := range lines {
		assert.Regexp(t, `^run_\d{3}$`, l)
	}

	set, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, set, n)
}

func TestAppend_LockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.done")

	holder, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer holder.Close()
	require.NoError(t, unix.Flock(int(holder.Fd()), unix.LOCK_EX))

	f := Open(path, WithLockRetry(3, time.Millisecond))
	err = f.Append("run_x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, unix.Flock(int(holder.Fd()), unix.LOCK_UN))
	require.NoError(t, f.Append("run_x"))
}

func TestSet_Minus(t *testing.T) {
	upstream := NewSet("a", "b", "c", "d")
	done := NewSet("a")
	deny := NewSet("c", "z")

	assert.Equal(t, []string{"b", "d"}, upstream.Minus(done, deny).Sorted())
	assert.Len(t, upstream, 4)
}
