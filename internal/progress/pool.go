package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// PoolUI shows one bar per file processed by a worker pool.
type PoolUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	totalFiles int
	started    int32
	completed  int32
	failed     int32
}

// FileBar is the bar of one file.
type FileBar struct {
	bar       *mpb.Bar
	ui        *PoolUI
	index     int
	path      string
	size      int64
	startTime time.Time
}

// NewPoolUI creates the bars of a pool processing totalFiles files. Bars are
// drawn on stderr only when it is a terminal.
func NewPoolUI(totalFiles int) *PoolUI {
	return newPoolUI(os.Stderr, IsTerminal(), totalFiles)
}

func newPoolUI(out io.Writer, isTerminal bool, totalFiles int) *PoolUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &PoolUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		totalFiles: totalFiles,
	}
}

// AddFile creates the bar of a file of size input bytes.
func (u *PoolUI) AddFile(path string, size int64) *FileBar {
	index := int(atomic.AddInt32(&u.started, 1))
	fb := &FileBar{
		ui:        u,
		index:     index,
		path:      path,
		size:      size,
		startTime: time.Now(),
	}
	if !u.isTerminal {
		return fb
	}

	label := fmt.Sprintf("[%d/%d] %s", index, u.totalFiles, truncatePath(path, 2))
	fb.bar = u.progress.New(size,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(decor.Name(label, decor.WCSyncSpaceR)),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return fb
}

// Write counts p as processed input, so a FileBar can be the target of an
// io.TeeReader.
func (f *FileBar) Write(p []byte) (int, error) {
	if f.bar != nil {
		f.bar.EwmaIncrBy(len(p), time.Since(f.startTime))
	}
	return len(p), nil
}

// Complete marks the file as done or failed.
func (f *FileBar) Complete(err error) {
	elapsed := time.Since(f.startTime).Round(time.Second)
	var msg string
	if err == nil {
		if f.bar != nil {
			f.bar.SetTotal(f.size, true)
		}
		msg = fmt.Sprintf("✓ %s (%.1f MiB, %s)\n", truncatePath(f.path, 2), float64(f.size)/(1024*1024), elapsed)
	} else {
		if f.bar != nil {
			f.bar.Abort(false)
		}
		atomic.AddInt32(&f.ui.failed, 1)
		msg = fmt.Sprintf("✗ %s: %v\n", truncatePath(f.path, 2), err)
	}
	atomic.AddInt32(&f.ui.completed, 1)

	if f.ui.isTerminal {
		_, _ = f.ui.progress.Write([]byte(msg))
	}
}

// Counts returns the number of completed and failed files.
func (u *PoolUI) Counts() (completed, failed int) {
	return int(atomic.LoadInt32(&u.completed)), int(atomic.LoadInt32(&u.failed))
}

// Wait blocks until every bar is complete.
func (u *PoolUI) Wait() {
	u.progress.Wait()
}
