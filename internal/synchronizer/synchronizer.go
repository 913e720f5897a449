// Package synchronizer copies finished runs from the instrument output
// directories to the basecalling volume and saves their instrument reports.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GenomiqueENS/aozan/internal/command"
	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/diskspace"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/notify"
	"github.com/GenomiqueENS/aozan/internal/step"
	"github.com/GenomiqueENS/aozan/internal/storage"
	"github.com/GenomiqueENS/aozan/internal/util/tar"
)

// Entries of a synchronized run saved in the hiseq_log_ archive.
var hiseqLogEntries = []string{"InterOp", "RunInfo.xml", "runParameters.xml", "RunParameters.xml"}

// Entries of a synchronized run saved in the report_ archive.
var reportEntries = []string{"Data/Status_Files", "Data/reports", "Data/Status.htm", constants.FirstBaseReportFile}

// Notifier sends the step notifications.
type Notifier interface {
	Report(ctx context.Context, category notify.Category, short, full string)
	Send(ctx context.Context, subject, body string)
}

// RunLocator finds the instrument output directory of a run.
type RunLocator interface {
	RunDir(runID string) (string, bool)
}

// Synchronizer runs the sync and partial sync steps.
type Synchronizer struct {
	cfg      *config.Config
	meter    diskspace.Meter
	runner   command.Runner
	notifier Notifier
	runs     RunLocator
	uploader storage.Uploader
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a Synchronizer. uploader may be nil.
func New(cfg *config.Config, meter diskspace.Meter, runner command.Runner, notifier Notifier,
	runs RunLocator, uploader storage.Uploader, logger *logging.Logger) *Synchronizer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Synchronizer{
		cfg:      cfg,
		meter:    meter,
		runner:   runner,
		notifier: notifier,
		runs:     runs,
		uploader: uploader,
		logger:   logger.WithField("step", "sync"),
		now:      time.Now,
	}
}

// excludes returns the rsync exclude patterns.
func (s *Synchronizer) excludes() []string {
	var patterns []string
	if s.cfg.Sync.ExcludeCIF {
		patterns = append(patterns, "*.cif")
	}
	return append(patterns, "*_pos.txt", "*.errorMap", "*.FWHMMap")
}

func checkDir(desc, path string) error {
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return step.Preflight(desc+" does not exist", fmt.Errorf("%s does not exist: %s", desc, path))
	}
	return nil
}

// inputDir returns the instrument directory of runID after checking the
// directories the step writes to.
func (s *Synchronizer) inputDir(runID string) (string, error) {
	dir, ok := s.runs.RunDir(runID)
	if !ok {
		return "", step.Preflight("HiSeq directory does not exist",
			fmt.Errorf("no instrument output directory holds run %s in %v", runID, s.cfg.HiSeqDataPaths))
	}
	for _, d := range []struct{ desc, path string }{
		{"Basecalling directory", s.cfg.BclDataPath},
		{"Report directory", s.cfg.ReportsDataPath},
		{"Temporary directory", s.cfg.TmpPath},
	} {
		if err := checkDir(d.desc, d.path); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// Sync copies a finished run to the basecalling volume, archives its
// instrument reports and sends the end of synchronization notification.
func (s *Synchronizer) Sync(ctx context.Context, runID string) error {
	start := s.now()
	logger := s.logger.WithField("run", runID)
	logger.Info().Msg("Sync step: start")

	input, err := s.inputDir(runID)
	if err != nil {
		return err
	}
	bclPath := s.cfg.BclDataPath

	used, err := s.meter.UsedSpace(ctx, input)
	if err != nil {
		return step.Execution("cannot compute disk usage of run "+runID, err)
	}
	free, err := s.meter.FreeSpace(bclPath)
	if err != nil {
		return step.Execution("cannot compute free space on "+bclPath, err)
	}
	logger.Debug().Int64("input_usage", used).Int64("output_free", free).
		Int64("needed", diskspace.Needed(used, s.cfg.Space.SyncFactor)).Msg("Sync step: space")

	if err := diskspace.Require(bclPath, used, free, s.cfg.Space.SyncFactor); err != nil {
		return step.Preflight("Not enough disk space to perform synchronization for run "+runID, err)
	}

	if reportsFree, err := s.meter.FreeSpace(s.cfg.ReportsDataPath); err == nil && reportsFree < constants.ReportsMinFreeSpaceSync {
		s.notifier.Report(ctx, notify.CategorySync,
			"Not enough disk space to store aozan reports for run "+runID,
			fmt.Sprintf("Not enough disk space to store aozan reports for run %s.\nNeed more than %s on %s.",
				runID, diskspace.FormatGb(constants.ReportsMinFreeSpaceSync), s.cfg.ReportsDataPath))
	}

	if err := s.rsync(ctx, input, bclPath, nil); err != nil {
		return step.Execution("error while executing rsync for run "+runID, err)
	}

	outputDir := filepath.Join(bclPath, runID)
	archives, err := s.saveReports(ctx, runID, outputDir)
	if err != nil {
		return err
	}
	s.upload(ctx, runID, archives)

	s.sendEndMail(ctx, runID, outputDir, s.now().Sub(start))
	logger.Info().Str("duration", notify.FormatDuration(s.now().Sub(start))).Msg("Sync step: success")
	return nil
}

// rsync copies src into dest. A non-nil filesFrom restricts the copy to the
// relative paths it lists.
func (s *Synchronizer) rsync(ctx context.Context, src, dest string, filesFrom *string) error {
	args := []string{"-a"}
	for _, p := range s.excludes() {
		args = append(args, "--exclude", p)
	}
	if filesFrom != nil {
		args = append(args, "--files-from="+*filesFrom)
	}
	cmd := command.Cmd{Name: "rsync", Args: append(args, src, dest)}
	if _, err := s.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("command line:\n%s: %w", cmd.String(), err)
	}
	return nil
}

// saveReports writes the hiseq_log_ and report_ archives of a synchronized
// run in its report directory and returns their paths.
func (s *Synchronizer) saveReports(ctx context.Context, runID, runDir string) ([]string, error) {
	reportDir := filepath.Join(s.cfg.ReportsDataPath, runID)
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return nil, step.Execution("cannot create report directory for run "+runID, err)
	}

	var archives []string

	logName := constants.HiSeqLogArchivePrefix + runID
	logArchive := filepath.Join(reportDir, logName+constants.ArchiveExtension)
	if err := tar.CreateTarBz2(logArchive, logName, runDir, hiseqLogEntries); err != nil {
		return nil, step.Execution("error while saving Illumina quality control for run "+runID, err)
	}
	archives = append(archives, logArchive)

	reportName := constants.ReportArchivePrefix + runID
	reportArchive := filepath.Join(reportDir, reportName+constants.ArchiveExtension)
	err := tar.CreateTarBz2(reportArchive, reportName, runDir, reportEntries)
	switch {
	case errors.Is(err, tar.ErrNothingToArchive):
		s.logger.Warn().Str("run", runID).Msg("No instrument html report to save")
	case err != nil:
		return nil, step.Execution("error while saving Illumina html reports for run "+runID, err)
	default:
		archives = append(archives, reportArchive)
		if err := s.copyReports(ctx, runDir, filepath.Join(reportDir, reportName)); err != nil {
			return nil, step.Execution("error while saving Illumina html reports for run "+runID, err)
		}
	}

	if s.cfg.ReadOnlyOutputFiles {
		for _, a := range archives {
			if err := os.Chmod(a, 0444); err != nil {
				return nil, step.Execution("cannot make archive read only for run "+runID, err)
			}
		}
	}
	return archives, nil
}

// copyReports keeps an unpacked copy of the html reports next to their archive.
func (s *Synchronizer) copyReports(ctx context.Context, runDir, dest string) error {
	entries := tar.ExistingEntries(runDir, reportEntries)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	cmd := command.Cmd{
		Name: "cp",
		Args: append(append([]string{"-rp", "--parents"}, entries...), dest),
		Dir:  runDir,
	}
	if _, err := s.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("command line:\n%s: %w", cmd.String(), err)
	}
	return nil
}

// upload copies archives to the archive storage. A failure is reported but
// does not fail the step.
func (s *Synchronizer) upload(ctx context.Context, runID string, archives []string) {
	if s.uploader == nil {
		return
	}
	for _, a := range archives {
		name := filepath.Base(a)
		if err := s.uploader.Upload(ctx, a, storage.RunKey(runID, name)); err != nil {
			s.notifier.Report(ctx, notify.CategorySync, "cannot upload "+name+" for run "+runID, err.Error())
		}
	}
}

func (s *Synchronizer) sendEndMail(ctx context.Context, runID, outputDir string, elapsed time.Duration) {
	used, err := s.meter.UsedSpace(ctx, outputDir)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", outputDir).Msg("Cannot compute space used by sync")
	}
	free, err := s.meter.FreeSpace(s.cfg.BclDataPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.cfg.BclDataPath).Msg("Cannot compute free space after sync")
	}

	msg := fmt.Sprintf("End of synchronization for run %s.\nJob finished at %s with no error in %s.\n\n"+
		"Run output files (without .cif files) can be found in the following directory:\n  %s",
		runID, s.now().Format(notify.HumanTime), notify.FormatDuration(elapsed), outputDir)
	if s.cfg.ReportsURL != "" {
		msg += "\n\nRun reports can be found at following location:\n  " + s.cfg.ReportsURL + "/" + runID
	}
	msg += fmt.Sprintf("\n\nFor this task %s has been used and %s still free.", diskspace.FormatGb(used), diskspace.FormatGb(free))

	s.notifier.Send(ctx, constants.SubjectPrefix+"End of synchronization for run "+runID, msg)
}
