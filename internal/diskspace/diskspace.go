// Package diskspace measures free and used space on the volumes the pipeline
// writes to, and gates steps on a static output-to-input size factor.
package diskspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/GenomiqueENS/aozan/internal/constants"
)

// InsufficientSpaceError indicates that a step would not fit on its target volume.
type InsufficientSpaceError struct {
	Path      string
	Needed    int64
	Available int64
	Factor    float64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("not enough disk space on %s: %s needed (factor %.2f), %s available",
		e.Path, FormatGb(e.Needed), e.Factor, FormatGb(e.Available))
}

// IsInsufficientSpaceError checks if err wraps an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}

// FormatGb renders a byte count the way operator alerts show it.
func FormatGb(n int64) string {
	return fmt.Sprintf("%.2f Gb", float64(n)/float64(constants.GiB))
}

// Meter reports free and used space. Steps depend on it so tests can
// substitute fixed numbers.
type Meter interface {
	FreeSpace(path string) (int64, error)
	UsedSpace(ctx context.Context, path string) (int64, error)
}

// OS is the Meter backed by statfs(2) and du(1).
type OS struct{}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func (OS) FreeSpace(path string) (int64, error) {
	return FreeSpace(path)
}

// UsedSpace returns the apparent size of path and everything below it.
func (OS) UsedSpace(ctx context.Context, path string) (int64, error) {
	return UsedSpace(ctx, path)
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	// Bavail = blocks available to non-root users
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// UsedSpace returns the apparent size in bytes of path, as reported by du.
func UsedSpace(ctx context.Context, path string) (int64, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "du", "-b", "--max-depth=0", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("du %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	fields := strings.Fields(stdout.String())
	if len(fields) == 0 {
		return 0, fmt.Errorf("du %s: empty output", path)
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("du %s: unexpected output %q", path, fields[0])
	}
	return n, nil
}

// Needed returns usage scaled by factor, rounded to the nearest byte.
func Needed(usage int64, factor float64) int64 {
	return int64(math.Round(float64(usage) * factor))
}

// Check reports whether free bytes cover Needed(usage, factor).
func Check(usage, free int64, factor float64) bool {
	return free >= Needed(usage, factor)
}

// Require returns an InsufficientSpaceError for path when Check fails.
func Require(path string, usage, free int64, factor float64) error {
	if Check(usage, free, factor) {
		return nil
	}
	return &InsufficientSpaceError{
		Path:      path,
		Needed:    Needed(usage, factor),
		Available: free,
		Factor:    factor,
	}
}
