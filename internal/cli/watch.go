package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/runid"
)

// runWatcher fires when run directories are created in the instrument
// output directories. Bursts of events are coalesced.
type runWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	fire     func(reason string)
	logger   *logging.Logger
}

func newRunWatcher(roots []string, debounce time.Duration, fire func(string), logger *logging.Logger) (*runWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	for _, root := range roots {
		if err := fsWatcher.Add(root); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to watch directory %s: %w", root, err)
		}
	}
	return &runWatcher{
		watcher:  fsWatcher,
		debounce: debounce,
		fire:     fire,
		logger:   logger,
	}, nil
}

// Run forwards events until ctx is done or the watcher is closed.
func (w *runWatcher) Run(ctx context.Context) {
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 || !runid.IsValid(filepath.Base(event.Name)) {
				continue
			}
			w.logger.Debug().Str("path", event.Name).Msg("New run directory")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")

		case <-pending:
			pending = nil
			w.fire("new run")
		}
	}
}

// Close stops watching.
func (w *runWatcher) Close() error {
	return w.watcher.Close()
}
