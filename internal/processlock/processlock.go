// Package processlock guards a whole pipeline invocation with a PID file so
// that two scheduler runs (typically overlapping cron jobs) never execute
// at the same time on one host. A PID file whose process is gone is stale
// and gets removed on the next check.
package processlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned by Create when another invocation holds the lock.
var ErrLocked = errors.New("a lock file exists")

// InvalidLockGrace is how long a lock file without a valid PID is still
// considered held.
var InvalidLockGrace = 30 * time.Second

// File is the program-wide lock file.
type File struct {
	path string
}

// New returns the lock file at path.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the lock file path.
func (f *File) Path() string {
	return f.path
}

// Alive reports whether a process with this pid exists on the host.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
	return err == nil
}

// ReadPID reads the PID from the lock file.
// Returns 0 if the file doesn't exist and -1 if its content is invalid.
func (f *File) ReadPID() int {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return -1
	}

	return pid
}

// ExistsAndAlive reports whether the lock is held by a live process.
// A lock file left by a dead process is deleted. A file whose content is not
// a PID is only deleted once it is older than InvalidLockGrace.
func (f *File) ExistsAndAlive() bool {
	info, err := os.Stat(f.path)
	if err != nil {
		return false
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return !os.IsNotExist(err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil && time.Since(info.ModTime()) < InvalidLockGrace {
		return true
	}
	if err == nil && Alive(pid) {
		return true
	}

	if RemoveIfUnchanged(f.path, data) {
		return false
	}
	// Replaced while being cleaned up.
	return Alive(f.ReadPID())
}

// Create writes the current process's PID to the lock file. It fails with
// ErrLocked if the file appeared since the last ExistsAndAlive check.
func (f *File) Create() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock file directory: %w", err)
	}

	created, err := CreateExclusive(f.path, []byte(strconv.Itoa(os.Getpid())))
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrLocked, f.path)
	}
	return nil
}

// Delete removes the lock file. Removing a missing file is not an error.
func (f *File) Delete() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete lock file: %w", err)
	}
	return nil
}

// Age returns how long ago the lock file was written.
func (f *File) Age() (time.Duration, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, err
	}
	return time.Since(info.ModTime()), nil
}
