// Package steplock implements per-run, per-step lock markers: a file named
// after the run in the step's working directory. Marker present means the
// run is being processed for that step.
package steplock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/processlock"
)

// Policy controls how a Locker behaves when the filesystem misbehaves.
type Policy struct {
	// FailOpenOnLockDirError treats a marker that cannot be created (for
	// instance a read-only lock directory) as acquired, so an unwritable
	// directory never blocks the pipeline.
	FailOpenOnLockDirError bool

	// ReclaimStale removes markers written on this host by a process that
	// no longer exists. Markers from other hosts or without an owner are
	// left alone.
	ReclaimStale bool
}

// DefaultPolicy returns the policy used when configuration does not say otherwise.
func DefaultPolicy() Policy {
	return Policy{
		FailOpenOnLockDirError: true,
		ReclaimStale:           true,
	}
}

// Locker manages markers for one step.
type Locker struct {
	step     string
	dir      string
	prefix   string
	policy   Policy
	logger   *logging.Logger
	hostname string
}

// New creates a locker for step whose markers live in dir and are named
// prefix + run id + ".lock".
func New(step, dir, prefix string, policy Policy, logger *logging.Logger) *Locker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	host, _ := os.Hostname()
	return &Locker{
		step:     step,
		dir:      dir,
		prefix:   prefix,
		policy:   policy,
		logger:   logger,
		hostname: host,
	}
}

// Step returns the step name the locker was created for.
func (l *Locker) Step() string {
	return l.step
}

// Path returns the marker path for runID.
func (l *Locker) Path(runID string) string {
	return filepath.Join(l.dir, l.prefix+runID+constants.LockSuffix)
}

// Acquire creates the marker for runID. It returns false when the step
// directory is missing or the run is already locked.
func (l *Locker) Acquire(runID string) bool {
	path := l.Path(runID)

	info, err := os.Stat(l.dir)
	if err != nil || !info.IsDir() {
		l.logger.Error().
			Str("step", l.step).
			Str("lock", path).
			Msg("Parent directory of lock file does not exist, the lock file has not been created")
		return false
	}

	ok, err := l.create(path)
	if ok {
		return true
	}
	if err == nil {
		// Already locked. Try to take over a marker left by a dead process.
		if l.policy.ReclaimStale && l.reclaim(path) {
			ok, err = l.create(path)
			if ok {
				return true
			}
		}
		if err == nil {
			return false
		}
	}

	l.logger.Error().
		Err(err).
		Str("step", l.step).
		Str("lock", path).
		Bool("fail_open", l.policy.FailOpenOnLockDirError).
		Msg("The lock file cannot be created")
	return l.policy.FailOpenOnLockDirError
}

// create returns (true, nil) when the marker was created, (false, nil) when
// it already exists and (false, err) on any other failure.
func (l *Locker) create(path string) (bool, error) {
	return processlock.CreateExclusive(path, []byte(fmt.Sprintf("%d@%s\n", os.Getpid(), l.hostname)))
}

func (l *Locker) reclaim(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, host, ok := parseOwner(data)
	if !ok || host != l.hostname || processlock.Alive(pid) {
		return false
	}
	if !processlock.RemoveIfUnchanged(path, data) {
		return false
	}
	l.logger.Warn().
		Str("step", l.step).
		Str("lock", path).
		Int("pid", pid).
		Msg("Removed stale lock file left by a dead process")
	return true
}

// parseOwner parses "pid@host" from the content of a marker.
func parseOwner(data []byte) (int, string, bool) {
	pidStr, host, found := strings.Cut(strings.TrimSpace(string(data)), "@")
	if !found || host == "" {
		return 0, "", false
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, "", false
	}
	return pid, host, true
}

// Release removes the marker for runID. Missing markers are ignored.
func (l *Locker) Release(runID string) {
	path := l.Path(runID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		l.logger.Warn().Err(err).Str("step", l.step).Str("lock", path).Msg("Failed to remove lock file")
	}
}

// IsLocked reports whether a marker exists for runID.
func (l *Locker) IsLocked(runID string) bool {
	_, err := os.Stat(l.Path(runID))
	return err == nil
}
