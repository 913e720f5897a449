// Package recompress re-encodes the FASTQ files of a demultiplexed run to
// the configured compression format.
package recompress

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/diskspace"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/notify"
	"github.com/GenomiqueENS/aozan/internal/resources"
	"github.com/GenomiqueENS/aozan/internal/step"
)

// Suffixes of the files the step recompresses.
var inputSuffixes = []string{".fastq.gz", ".fastq"}

// Notifier sends the end of step notification.
type Notifier interface {
	Send(ctx context.Context, subject, body string)
}

// Instruments names the instrument of a run.
type Instruments interface {
	InstrumentName(runID string) string
}

// Recompressor runs the recompression step.
type Recompressor struct {
	cfg         *config.Config
	meter       diskspace.Meter
	notifier    Notifier
	instruments Instruments
	resources   *resources.Manager
	logger      *logging.Logger
	now         func() time.Time
}

// New creates a Recompressor. Its pool size comes from recompress.threads
// bounded by the resource manager.
func New(cfg *config.Config, meter diskspace.Meter, notifier Notifier, instruments Instruments, logger *logging.Logger) *Recompressor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Recompressor{
		cfg:         cfg,
		meter:       meter,
		notifier:    notifier,
		instruments: instruments,
		resources:   resources.NewManager(resources.Config{MaxThreads: cfg.Recompress.Threads}),
		logger:      logger.WithField("step", "recompress"),
		now:         time.Now,
	}
}

// ListFiles returns the FASTQ files under dir, sorted.
func ListFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		for _, s := range inputSuffixes {
			if strings.HasSuffix(d.Name(), s) {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// Jobs returns the recompression jobs of the files, skipping those whose
// output already exists.
func (r *Recompressor) Jobs(files []string, target Codec) []Job {
	var jobs []Job
	for _, f := range files {
		from, ok := codecForFile(f)
		if !ok {
			continue
		}
		output := OutputName(f, target)
		if _, err := os.Stat(output); err == nil {
			r.logger.Warn().Str("file", output).Msg("Recompress step: Skipping: the file already exists")
			continue
		}
		jobs = append(jobs, Job{
			Input:          f,
			Output:         output,
			From:           from,
			To:             target,
			Level:          r.cfg.Recompress.CompressionLevel,
			DeleteOriginal: r.cfg.Recompress.DeleteOriginal,
		})
	}
	return jobs
}

// Run recompresses the FASTQ files of fastq.data.path/{run}.
func (r *Recompressor) Run(ctx context.Context, runID string) error {
	start := r.now()
	logger := r.logger.WithField("run", runID)
	logger.Info().Msg("Recompress step: start")

	if info, err := os.Stat(r.cfg.FastqDataPath); err != nil || !info.IsDir() {
		return step.Preflight("Fastq data directory does not exists",
			fmt.Errorf("fastq data directory does not exists: %s", r.cfg.FastqDataPath))
	}
	input := filepath.Join(r.cfg.FastqDataPath, runID)
	if info, err := os.Stat(input); err != nil || !info.IsDir() {
		return step.Preflight("FASTQ directory of run "+runID+" does not exist",
			fmt.Errorf("the FASTQ directory of run %s does not exist: %s", runID, input))
	}

	target, err := CodecByName(r.cfg.Recompress.Compression)
	if err != nil {
		return step.Config("Unknown compression type", err)
	}

	previous, err := r.meter.UsedSpace(ctx, input)
	if err != nil {
		return step.Execution("cannot compute disk usage of run "+runID, err)
	}

	files, err := ListFiles(input)
	if err != nil {
		return step.Execution("cannot list FASTQ files of run "+runID, err)
	}
	jobs := r.Jobs(files, target)

	pool := NewPool(r.resources.PoolSize(len(jobs)), logger)
	logger.Debug().Int("files", len(jobs)).Str("resources", r.resources.String()).Msg("Recompress step: starting pool")
	if err := pool.Run(ctx, jobs); err != nil {
		var fe *FileError
		if errors.As(err, &fe) {
			return step.Execution(fe.Short, err)
		}
		return step.Execution("Failed to recompress a file successfully", err)
	}

	free, err := r.meter.FreeSpace(input)
	if err != nil {
		logger.Warn().Err(err).Msg("Cannot compute free space after recompress")
	}
	used, err := r.meter.UsedSpace(ctx, input)
	if err != nil {
		logger.Warn().Err(err).Msg("Cannot compute space used after recompress")
	}
	logger.Warn().Int64("output_free", free).Int64("previous_usage", previous).Int64("usage", used).
		Msg("Recompress step: disk usage")

	elapsed := r.now().Sub(start)
	msg := fmt.Sprintf("End of recompression for run %s.\nJob finished at %s with no error in %s. "+
		"\n\nAfter recompress step fastq folder is now %.2f MB (previously %.2f MB) and %.2f GB still free.",
		runID, r.now().Format(notify.HumanTime), notify.FormatDuration(elapsed),
		float64(used)/constants.MiB, float64(previous)/constants.MiB, float64(free)/constants.GiB)
	r.notifier.Send(ctx, constants.SubjectPrefix+"End of recompress for run "+runID+" on "+r.instruments.InstrumentName(runID), msg)

	logger.Info().Str("duration", notify.FormatDuration(elapsed)).Msg("Recompress step: success")
	return nil
}
