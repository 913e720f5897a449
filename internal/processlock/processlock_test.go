package processlock

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Larger than any Linux pid_max, so never alive.
const deadPID = 99999999

func TestFile_CreateAndDelete(t *testing.T) {
	lock := New(filepath.Join(t.TempDir(), "var", "aozan.lock"))

	assert.False(t, lock.ExistsAndAlive())
	require.NoError(t, lock.Create())
	assert.Equal(t, os.Getpid(), lock.ReadPID())
	assert.True(t, lock.ExistsAndAlive())

	err := lock.Create()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)

	age, err := lock.Age()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(age), int64(0))

	require.NoError(t, lock.Delete())
	require.NoError(t, lock.Delete())
	assert.False(t, lock.ExistsAndAlive())
}

func TestFile_StaleLockRecovery(t *testing.T) {
	t.Run("DeadPID", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aozan.lock")
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPID)), 0644))

		lock := New(path)
		assert.False(t, lock.ExistsAndAlive())
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), "stale lock file should be removed")
	})

	t.Run("GarbageContent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aozan.lock")
		require.NoError(t, os.WriteFile(path, []byte("not a pid\n"), 0644))
		old := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(path, old, old))

		lock := New(path)
		assert.Equal(t, -1, lock.ReadPID())
		assert.False(t, lock.ExistsAndAlive())
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestFile_FreshInvalidLockIsHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aozan.lock")
	// Created but not written yet by its owner.
	require.NoError(t, os.WriteFile(path, nil, 0644))

	lock := New(path)
	assert.True(t, lock.ExistsAndAlive())
	assert.FileExists(t, path)
	assert.ErrorIs(t, lock.Create(), ErrLocked)

	old := time.Now().Add(-2 * InvalidLockGrace)
	require.NoError(t, os.Chtimes(path, old, old))
	assert.False(t, lock.ExistsAndAlive())
	assert.NoFileExists(t, path)
	require.NoError(t, lock.Create())
	assert.Equal(t, os.Getpid(), lock.ReadPID())
}

func TestCreateExclusive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aozan.lock")
	const contenders = 16

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			created, err := CreateExclusive(path, []byte(strconv.Itoa(1000+i)))
			assert.NoError(t, err)
			if created {
				wins.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 4)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are removed")
}

func TestRemoveIfUnchanged(t *testing.T) {
	t.Run("Unchanged", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aozan.lock")
		require.NoError(t, os.WriteFile(path, []byte("123"), 0644))

		assert.True(t, RemoveIfUnchanged(path, []byte("123")))
		assert.NoFileExists(t, path)
	})

	t.Run("ReplacedByNewOwner", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "aozan.lock")
		require.NoError(t, os.WriteFile(path, []byte("456"), 0644))

		assert.False(t, RemoveIfUnchanged(path, []byte("123")))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "456", string(data))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Missing", func(t *testing.T) {
		assert.False(t, RemoveIfUnchanged(filepath.Join(t.TempDir(), "aozan.lock"), nil))
	})
}

func TestAlive(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(deadPID))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
}
