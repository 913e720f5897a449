// Package progress reports the progress of long file operations on the
// terminal. Nothing is drawn when stderr is not a terminal, which is the
// case when Aozan runs from cron.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// IsTerminal reports whether stderr is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Bytes is a byte counter for one transfer.
type Bytes struct {
	bar *progressbar.ProgressBar
}

// NewBytes creates a byte counter of total bytes. The bar is drawn on w when
// enabled is true and discarded otherwise.
func NewBytes(w io.Writer, enabled bool, total int64, description string) *Bytes {
	if !enabled || w == nil {
		w = io.Discard
	}
	return &Bytes{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)}
}

// NewUploadBytes is NewBytes on stderr, enabled on a terminal.
func NewUploadBytes(total int64, path string) *Bytes {
	return NewBytes(os.Stderr, IsTerminal(), total, "Uploading "+truncatePath(path, 2))
}

// Add counts n more bytes.
func (b *Bytes) Add(n int) {
	_ = b.bar.Add(n)
}

// Set moves the counter to n bytes.
func (b *Bytes) Set(n int64) {
	_ = b.bar.Set64(n)
}

// Current returns the bytes counted so far.
func (b *Bytes) Current() int64 {
	return b.bar.State().CurrentNum
}

// Reset restarts the counter, e.g. before a retry.
func (b *Bytes) Reset() {
	b.bar.Reset()
}

// Finish completes the bar.
func (b *Bytes) Finish() {
	_ = b.bar.Finish()
}

// truncatePath keeps the last maxComponents components of a path.
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
