// Package runset persists sets of run ids (done, deny and priority lists)
// as line files. Appending is the only mutation; each append takes an
// exclusive flock so concurrent writers from other processes never
// interleave partial lines.
package runset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/GenomiqueENS/aozan/internal/constants"
)

// ErrLockTimeout is returned when the exclusive lock on a run set file could
// not be taken within the configured number of attempts.
var ErrLockTimeout = errors.New("timed out waiting for run set file lock")

// Set is an in-memory set of run ids.
type Set map[string]struct{}

// NewSet builds a set from ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports membership.
func (s Set) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s Set) Add(id string) {
	s[id] = struct{}{}
}

// Minus returns the members of s absent from every other set.
func (s Set) Minus(others ...Set) Set {
	out := make(Set)
	for id := range s {
		excluded := false
		for _, o := range others {
			if o.Contains(id) {
				excluded = true
				break
			}
		}
		if !excluded {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// File is a run set backed by a line file.
type File struct {
	path     string
	attempts int
	interval time.Duration
}

// Option configures a File.
type Option func(*File)

// WithLockRetry overrides the flock retry policy.
func WithLockRetry(attempts int, interval time.Duration) Option {
	return func(f *File) {
		if attempts > 0 {
			f.attempts = attempts
		}
		f.interval = interval
	}
}

// Open returns the run set stored at path. The file is not touched until
// Load or Append is called.
func Open(path string, opts ...Option) *File {
	f := &File{
		path:     path,
		attempts: constants.RunSetLockAttempts,
		interval: constants.RunSetLockInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Load reads the set. A missing file is an empty set.
func (f *File) Load() (Set, error) {
	return Load(f.path)
}

// Load reads a run set file: one id per line, trimmed, empty lines skipped.
func Load(path string) (Set, error) {
	set := make(Set)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("failed to open run set %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run set %s: %w", path, err)
	}
	return set, nil
}

// Append adds id at the end of the file under an exclusive flock.
func (f *File) Append(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("refusing to append an empty run id to %s", f.path)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run set %s for append: %w", f.path, err)
	}
	defer file.Close()

	if err := f.lock(file); err != nil {
		return err
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	// A single write keeps the line whole even for O_APPEND readers that
	// do not take the lock.
	if _, err := file.Write([]byte(id + "\n")); err != nil {
		return fmt.Errorf("failed to append %s to %s: %w", id, f.path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", f.path, err)
	}
	return nil
}

func (f *File) lock(file *os.File) error {
	fd := int(file.Fd())
	for attempt := 1; attempt <= f.attempts; attempt++ {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("failed to lock run set %s: %w", f.path, err)
		}
		if attempt < f.attempts {
			time.Sleep(f.interval)
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, f.path, f.attempts)
}
