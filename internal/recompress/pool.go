package recompress

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/progress"
)

// Pool recompresses files with a fixed number of workers.
type Pool struct {
	size   int
	logger *logging.Logger

	// work processes one job. It is Recompress outside of tests.
	work func(ctx context.Context, j Job, progress *progress.FileBar) error
}

// NewPool creates a pool of size workers.
func NewPool(size int, logger *logging.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pool{
		size:   size,
		logger: logger,
		work: func(ctx context.Context, j Job, bar *progress.FileBar) error {
			return Recompress(ctx, j, bar)
		},
	}
}

// Run processes every job and waits for all of them. Jobs are independent:
// a failure neither stops nor rolls back the others. The returned error is
// the failure of the first job, in jobs order, that failed.
func (p *Pool) Run(ctx context.Context, jobs []Job) error {
	ui := progress.NewPoolUI(len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(p.size)
	for i, j := range jobs {
		g.Go(func() error {
			var size int64
			if info, err := os.Stat(j.Input); err == nil {
				size = info.Size()
			}
			bar := ui.AddFile(j.Input, size)

			err := p.work(ctx, j, bar)
			bar.Complete(err)
			if err != nil {
				p.logger.Error().Err(err).Str("file", j.Input).Msg("Recompress step: file failed")
			} else {
				p.logger.Debug().Str("file", j.Output).Msg("Recompress step: file done")
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()
	ui.Wait()

	completed, failed := ui.Counts()
	p.logger.Info().Int("files", completed).Int("failed", failed).Int("workers", p.size).Msg("Recompress step: pool finished")

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
