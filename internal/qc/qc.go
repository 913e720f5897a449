// Package qc runs the quality control program on demultiplexed runs and
// archives its report.
package qc

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
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

// Notifier sends the step notifications.
type Notifier interface {
	Report(ctx context.Context, category notify.Category, short, full string)
	SendWithAttachment(ctx context.Context, subject, body, attachment string)
}

// Runs locates the data of a run.
type Runs interface {
	// InputDir returns the basecalling data the run was demultiplexed from.
	InputDir(runID string) (string, bool)
	InstrumentName(runID string) string
}

// QC runs the quality control step.
type QC struct {
	cfg      *config.Config
	meter    diskspace.Meter
	runner   command.Runner
	notifier Notifier
	runs     Runs
	uploader storage.Uploader
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a QC step. uploader may be nil.
func New(cfg *config.Config, meter diskspace.Meter, runner command.Runner, notifier Notifier,
	runs Runs, uploader storage.Uploader, logger *logging.Logger) *QC {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &QC{
		cfg:      cfg,
		meter:    meter,
		runner:   runner,
		notifier: notifier,
		runs:     runs,
		uploader: uploader,
		logger:   logger.WithField("step", "qc"),
		now:      time.Now,
	}
}

// ReportName returns the name of the QC report directory of runID.
func ReportName(runID string) string {
	return constants.QCReportPrefix + runID
}

type paths struct {
	input     string
	fastq     string
	reportDir string
	output    string
	tmpOutput string
	archive   string
	html      string
}

func (q *QC) prepare(runID string) (*paths, error) {
	input, ok := q.runs.InputDir(runID)
	if !ok {
		return nil, step.Preflight("Basecalling data directory does not exist",
			fmt.Errorf("basecalling data directory does not exist for run %s", runID))
	}
	if info, err := os.Stat(q.cfg.FastqDataPath); err != nil || !info.IsDir() {
		return nil, step.Preflight("FASTQ data directory does not exist",
			fmt.Errorf("FASTQ data directory does not exist: %s", q.cfg.FastqDataPath))
	}

	reportDir := filepath.Join(q.cfg.ReportsDataPath, runID)
	p := &paths{
		input:     input,
		fastq:     filepath.Join(q.cfg.FastqDataPath, runID),
		reportDir: reportDir,
		output:    filepath.Join(reportDir, ReportName(runID)),
		archive:   filepath.Join(reportDir, ReportName(runID)+constants.ArchiveExtension),
	}
	p.tmpOutput = p.output + constants.TmpExtension
	p.html = filepath.Join(p.output, runID+".html")

	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return nil, step.Execution("cannot create report directory for run "+runID, err)
	}
	if info, err := os.Stat(q.cfg.TmpPath); err != nil || !info.IsDir() {
		return nil, step.Preflight("Temporary directory does not exist",
			fmt.Errorf("temporary directory does not exist: %s", q.cfg.TmpPath))
	}
	if _, err := os.Stat(p.output); err == nil {
		return nil, step.Preflight("The quality control report directory already exists for run "+runID,
			fmt.Errorf("the quality control report directory already exists for run %s: %s", runID, p.output))
	}
	if _, err := os.Stat(p.archive); err == nil {
		return nil, step.Preflight("The quality control report archive already exists for run "+runID,
			fmt.Errorf("the quality control report archive already exists for run %s: %s", runID, p.archive))
	}

	free, err := q.meter.FreeSpace(q.cfg.ReportsDataPath)
	if err != nil {
		return nil, step.Execution("cannot compute free space on "+q.cfg.ReportsDataPath, err)
	}
	if free < constants.ReportsMinFreeSpaceQC {
		return nil, step.Preflight("Not enough disk space to store aozan quality control for run "+runID,
			&diskspace.InsufficientSpaceError{Path: q.cfg.ReportsDataPath, Needed: constants.ReportsMinFreeSpaceQC, Available: free, Factor: 1})
	}
	return p, nil
}

// Run computes the quality control report of runID.
func (q *QC) Run(ctx context.Context, runID string) error {
	start := q.now()
	logger := q.logger.WithField("run", runID)
	logger.Info().Msg("QC step: Starting")

	p, err := q.prepare(runID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(p.tmpOutput, 0755); err != nil {
		return step.Execution("cannot create the QC output directory for run "+runID, err)
	}

	settings, err := q.writeSettings(runID)
	if err != nil {
		return step.Execution("cannot write the QC settings for run "+runID, err)
	}
	defer os.Remove(settings)

	cmd := command.Cmd{Name: q.cfg.QC.Command, Args: []string{
		"--run-id", runID,
		"--bcl-dir", p.input,
		"--fastq-dir", p.fastq,
		"--output-dir", p.tmpOutput,
		"--tmp-dir", q.cfg.TmpPath,
		"--threads", strconv.Itoa(q.cfg.QC.Threads),
		"--conf", settings,
	}}
	logger.Info().Str("command", cmd.String()).Msg("Computing QC report")
	if _, err := q.runner.Run(ctx, cmd); err != nil {
		return step.Execution("Error while computing QC report for run "+runID+".",
			fmt.Errorf("command line:\n%s: %w", cmd.String(), err))
	}

	if err := os.Rename(p.tmpOutput, p.output); err != nil {
		return step.Execution("Error while computing QC report for run "+runID+".", err)
	}
	if _, err := os.Stat(p.html); err != nil {
		return step.Execution("Error while computing QC report for run "+runID+".",
			fmt.Errorf("no HTML report generated: %s", p.html))
	}

	if err := tar.CreateTarBz2FromDir(p.output, p.archive); err != nil {
		return step.Execution("Error while saving the QC archive file for "+runID, err)
	}
	if err := os.Chmod(p.archive, 0444); err != nil {
		return step.Execution("Error while saving the QC archive file for "+runID, err)
	}
	if q.cfg.ReadOnlyOutputFiles {
		if err := makeReadOnly(p.output); err != nil {
			return step.Execution("Error while setting the output QC directory to read only for run "+runID, err)
		}
	}

	if q.uploader != nil {
		name := filepath.Base(p.archive)
		if err := q.uploader.Upload(ctx, p.archive, storage.RunKey(runID, name)); err != nil {
			q.notifier.Report(ctx, notify.CategoryQC, "cannot upload "+name+" for run "+runID, err.Error())
		}
	}

	q.sendEndMail(ctx, runID, p, q.now().Sub(start))
	logger.Info().Str("duration", notify.FormatDuration(q.now().Sub(start))).Msg("QC step: successful")
	return nil
}

// writeSettings writes the qc.* keys the orchestrator does not consume in a
// key=value file read by the QC program.
func (q *QC) writeSettings(runID string) (string, error) {
	var keys []string
	for k := range q.cfg.Extra {
		if strings.HasPrefix(k, "qc.") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, q.cfg.Extra[k])
	}
	path := filepath.Join(q.cfg.TmpPath, "qc_"+runID+".conf")
	return path, os.WriteFile(path, []byte(b.String()), 0644)
}

func (q *QC) sendEndMail(ctx context.Context, runID string, p *paths, elapsed time.Duration) {
	used, err := q.meter.UsedSpace(ctx, p.output)
	if err != nil {
		q.logger.Warn().Err(err).Str("path", p.output).Msg("Cannot compute space used by QC")
	}
	free, err := q.meter.FreeSpace(p.output)
	if err != nil {
		q.logger.Warn().Err(err).Str("path", p.output).Msg("Cannot compute free space after QC")
	}
	q.logger.Warn().Str("run", runID).Int64("output_free", free).Int64("usage", used).Msg("QC step: disk usage")

	msg := fmt.Sprintf("Ending quality control for run %s.\nJob finished at %s without error in %s. "+
		"You will find attached to this message the quality control report.\n\n"+
		"QC files for this run can be found in the following directory:\n  %s",
		runID, q.now().Format(notify.HumanTime), notify.FormatDuration(elapsed), p.output)
	if q.cfg.ReportsURL != "" {
		msg += "\n\nRun reports can be found at following location:\n  " + q.cfg.ReportsURL + "/" + runID
	}
	msg += fmt.Sprintf("\n\nFor this task %.2f MB has been used and %.2f GB still free.",
		float64(used)/constants.MiB, float64(free)/constants.GiB)

	q.notifier.SendWithAttachment(ctx, constants.SubjectPrefix+"Ending quality control for run "+runID+" on "+
		q.runs.InstrumentName(runID), msg, p.html)
}

// makeReadOnly removes the write permissions under dir, dir included.
func makeReadOnly(dir string) error {
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Changed once the walk is over.
			dirs = append(dirs, path)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return os.Chmod(path, info.Mode().Perm()&^0222)
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		info, err := os.Stat(dirs[i])
		if err != nil {
			return err
		}
		if err := os.Chmod(dirs[i], info.Mode().Perm()&^0222); err != nil {
			return err
		}
	}
	return nil
}
