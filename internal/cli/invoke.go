package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/GenomiqueENS/aozan/internal/command"
	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/demux"
	"github.com/GenomiqueENS/aozan/internal/discovery"
	"github.com/GenomiqueENS/aozan/internal/diskspace"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/metrics"
	"github.com/GenomiqueENS/aozan/internal/notify"
	"github.com/GenomiqueENS/aozan/internal/pipeline"
	"github.com/GenomiqueENS/aozan/internal/processlock"
	"github.com/GenomiqueENS/aozan/internal/qc"
	"github.com/GenomiqueENS/aozan/internal/recompress"
	"github.com/GenomiqueENS/aozan/internal/storage"
	"github.com/GenomiqueENS/aozan/internal/synchronizer"
)

// ErrStepFailed is returned by Invoke, when Options.ExitCode is set, if a
// step halted during the invocation.
var ErrStepFailed = errors.New("a step failed")

// lockExistsMessage is printed on stderr when another invocation is running.
const lockExistsMessage = "ERROR: Aozan can not be executed. A lock file exists."

// Options are the command line switches of an invocation.
type Options struct {
	Quiet    bool
	ExitCode bool
	Debug    bool
	Stderr   io.Writer
}

// Invoke runs one invocation of the pipeline for the configuration at
// confPath, guarded by the process lock.
func Invoke(ctx context.Context, confPath string, opts Options) error {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	cfg, err := config.Load(confPath)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	logger, closeLog, err := newLogger(cfg, opts.Debug)
	if err != nil {
		return err
	}
	defer closeLog()

	sender, err := notify.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Aozan can not be executed")
		return err
	}
	notifier := notify.NewFailureNotifier(sender, cfg.VarPath, cfg.LastErrExpiry, logger)

	if err := checkConfig(cfg); err != nil {
		logger.Error().Err(err).Msg("Aozan can not be executed. Configuration is invalid or missing, some useful directories may be inaccessible.")
		notifier.Report(ctx, notify.CategoryGlobal, "Aozan configuration is invalid", err.Error())
		return err
	}

	lock := processlock.New(cfg.LockFile)
	held, err := acquireProcessLock(ctx, lock, cfg, opts, notifier, logger)
	if err != nil || !held {
		return err
	}
	defer func() {
		if err := lock.Delete(); err != nil {
			logger.Warn().Err(err).Msg("Cannot remove the lock file")
		}
	}()

	sched, recorder, err := buildScheduler(ctx, cfg, notifier, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Aozan can not be executed")
		notifier.Report(ctx, notify.CategoryGlobal, "Aozan can not be executed", err.Error())
		return err
	}

	inv := pipeline.NewInvocation(cfg, logger)
	sum, runErr := sched.Run(ctx, inv)

	if cfg.MetricsTextfile != "" {
		if err := recorder.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.MetricsTextfile).Msg("Cannot write the metrics file")
		}
	}
	if inv.SomethingToDo() || runErr != nil {
		inv.Logger.Info().Msg("Ending Aozan")
	}

	if runErr != nil {
		return runErr
	}
	if sum.Failed && opts.ExitCode {
		return ErrStepFailed
	}
	return nil
}

// newLogger returns the logger of an invocation: the log file when one is
// configured, stderr otherwise.
func newLogger(cfg *config.Config, forceDebug bool) (*logging.Logger, func(), error) {
	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.Debug || forceDebug {
		level = zerolog.DebugLevel
	}
	logging.SetGlobalLevel(level)

	if cfg.LogPath == "" {
		return GetLogger(), func() {}, nil
	}
	l, closer, err := logging.NewFileLogger(cfg.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open the log file %s: %w", cfg.LogPath, err)
	}
	return l, func() { closer.Close() }, nil
}

func checkConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.CheckPrograms(cfg.RequiredPrograms())
}

// acquireProcessLock creates the process lock. It returns false when another
// live invocation holds it; a lock left by a dead process is removed first.
func acquireProcessLock(ctx context.Context, lock *processlock.File, cfg *config.Config, opts Options,
	notifier *notify.FailureNotifier, logger *logging.Logger) (bool, error) {
	if !lock.ExistsAndAlive() {
		err := lock.Create()
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, processlock.ErrLocked) {
			return false, err
		}
	}

	if !opts.Quiet {
		fmt.Fprintln(opts.Stderr, lockExistsMessage)
	}
	logger.Debug().Str("path", lock.Path()).Msg("A lock file exists")

	if cfg.Lock.AlertAge > 0 {
		if age, err := lock.Age(); err == nil && age > cfg.Lock.AlertAge {
			notifier.Report(ctx, notify.CategoryGlobal, "A lock file exists",
				fmt.Sprintf("A lock file exists at %s for %s (pid %d). Please investigate last error and then remove the lock file.",
					lock.Path(), notify.FormatDuration(age), lock.ReadPID()))
		}
	}
	return false, nil
}

// buildScheduler wires the steps of an invocation on the host.
func buildScheduler(ctx context.Context, cfg *config.Config, notifier *notify.FailureNotifier,
	logger *logging.Logger) (*pipeline.Scheduler, *metrics.Recorder, error) {
	uploader, err := storage.New(ctx, cfg.Archive, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot configure the report archive storage: %w", err)
	}

	meter := diskspace.OS{}
	runner := command.NewExec(logger)
	disc := discovery.New(cfg, meter, notifier, logger)

	syncer := synchronizer.New(cfg, meter, runner, notifier, disc, uploader, logger)
	dmx := demux.New(cfg, meter, runner, notifier, disc, uploader, logger)
	rec := recompress.New(cfg, meter, notifier, disc, logger)
	quality := qc.New(cfg, meter, runner, notifier, qcRuns{demux: dmx, discovery: disc}, uploader, logger)

	recorder := metrics.NewRecorder()
	steps := pipeline.Steps{
		Sync:        syncer.Sync,
		PartialSync: syncer.PartialSync,
		Demux:       dmx.Run,
		Recompress:  rec.Run,
		QC:          quality.Run,
	}
	return pipeline.New(cfg, disc, steps, pipeline.NewLockers(cfg, logger), notifier, recorder, logger), recorder, nil
}

// qcRuns locates the demultiplexing input of a run for the QC step.
type qcRuns struct {
	demux     *demux.Demux
	discovery *discovery.Discovery
}

func (r qcRuns) InputDir(runID string) (string, bool) {
	return r.demux.InputDir(runID)
}

func (r qcRuns) InstrumentName(runID string) string {
	return r.discovery.InstrumentName(runID)
}
