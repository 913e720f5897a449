// Package demux converts synchronized runs into FASTQ files with bcl2fastq.
package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GenomiqueENS/aozan/internal/command"
	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/diskspace"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/notify"
	"github.com/GenomiqueENS/aozan/internal/runid"
	"github.com/GenomiqueENS/aozan/internal/step"
	"github.com/GenomiqueENS/aozan/internal/storage"
	"github.com/GenomiqueENS/aozan/internal/util/tar"
)

// Mount points of the bcl2fastq container.
const (
	dockerInput  = "/data/input"
	dockerOutput = "/data/output"
	dockerTmp    = "/tmp"
)

// Entries of the bcl2fastq output saved in the basecall_stats_ archive.
var statsEntries = []string{"Reports", "Stats", "InterOp", "SampleSheet.csv"}

// Notifier sends the step notifications.
type Notifier interface {
	Report(ctx context.Context, category notify.Category, short, full string)
	Send(ctx context.Context, subject, body string)
}

// Runs locates runs on the instrument output directories.
type Runs interface {
	RunDir(runID string) (string, bool)
	InstrumentName(runID string) string
}

// Demux runs the demultiplexing step.
type Demux struct {
	cfg      *config.Config
	meter    diskspace.Meter
	runner   command.Runner
	notifier Notifier
	runs     Runs
	uploader storage.Uploader
	logger   *logging.Logger
	now      func() time.Time
}

// New creates a Demux. uploader may be nil.
func New(cfg *config.Config, meter diskspace.Meter, runner command.Runner, notifier Notifier,
	runs Runs, uploader storage.Uploader, logger *logging.Logger) *Demux {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Demux{
		cfg:      cfg,
		meter:    meter,
		runner:   runner,
		notifier: notifier,
		runs:     runs,
		uploader: uploader,
		logger:   logger.WithField("step", "demux"),
		now:      time.Now,
	}
}

// job holds the paths of one demultiplexing.
type job struct {
	runID       string
	instrument  string
	input       string
	output      string
	reportDir   string
	statsFile   string
	sampleSheet string
	tmpSheet    string
	outLog      string
	errLog      string
}

// InputDir returns the run data demultiplexed for runID: the synchronized
// copy, or the instrument output when demux.use.hiseq.output is set.
func (d *Demux) InputDir(runID string) (string, bool) {
	if d.cfg.Demux.UseHiSeqOutput {
		return d.runs.RunDir(runID)
	}
	dir := filepath.Join(d.cfg.BclDataPath, runID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

// SampleSheetName returns the base name of the samplesheet of runID, without
// extension.
func SampleSheetName(prefix string, id runid.RunID) string {
	return fmt.Sprintf("%s_%s_%04d", prefix, id.Instrument, id.Count)
}

func checkDir(desc, path string) error {
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return step.Preflight(desc+" does not exist", fmt.Errorf("%s does not exist: %s", desc, path))
	}
	return nil
}

// prepare checks everything the demultiplexing of runID needs.
func (d *Demux) prepare(ctx context.Context, runID string) (*job, error) {
	id, err := runid.Parse(runID)
	if err != nil {
		return nil, step.Config("invalid run id "+runID, err)
	}

	input, ok := d.InputDir(runID)
	if !ok {
		return nil, step.Preflight("Basecalling data directory does not exist",
			fmt.Errorf("no input data directory for run %s", runID))
	}

	for _, dir := range []struct{ desc, path string }{
		{"FASTQ data directory", d.cfg.FastqDataPath},
		{"Bcl2fastq samplesheet directory", d.cfg.Demux.Bcl2fastq.SampleSheetsPath},
		{"Temporary directory", d.cfg.TmpPath},
		{"Report directory", d.cfg.ReportsDataPath},
	} {
		if err := checkDir(dir.desc, dir.path); err != nil {
			return nil, err
		}
	}

	j := &job{
		runID:      runID,
		instrument: d.runs.InstrumentName(runID),
		input:      input,
		output:     filepath.Join(d.cfg.FastqDataPath, runID),
		reportDir:  filepath.Join(d.cfg.ReportsDataPath, runID),
		statsFile:  constants.BasecallStatsArchivePrefix + runID + constants.ArchiveExtension,
		outLog:     filepath.Join(d.cfg.TmpPath, "bcl2fastq_output_"+runID+".out"),
		errLog:     filepath.Join(d.cfg.TmpPath, "bcl2fastq_output_"+runID+".err"),
	}

	if err := os.MkdirAll(j.reportDir, 0755); err != nil {
		return nil, step.Execution("cannot create report directory for run "+runID, err)
	}
	if _, err := os.Stat(filepath.Join(j.reportDir, j.statsFile)); err == nil {
		return nil, step.Preflight("Basecall stats archive already exists for run "+runID,
			fmt.Errorf("basecall stats archive already exists for run %s: %s", runID, j.statsFile))
	}
	if _, err := os.Stat(j.output); err == nil {
		return nil, step.Preflight("FASTQ output directory already exists for run "+runID,
			fmt.Errorf("FASTQ output directory already exists for run %s: %s", runID, j.output))
	}

	used, err := d.meter.UsedSpace(ctx, input)
	if err != nil {
		return nil, step.Execution("cannot compute disk usage of run "+runID, err)
	}
	free, err := d.meter.FreeSpace(d.cfg.FastqDataPath)
	if err != nil {
		return nil, step.Execution("cannot compute free space on "+d.cfg.FastqDataPath, err)
	}
	d.logger.Debug().Str("run", runID).Int64("input_usage", used).Int64("output_free", free).
		Int64("needed", diskspace.Needed(used, d.cfg.Space.DemuxFactor)).Msg("Demux step: space")
	if err := diskspace.Require(d.cfg.FastqDataPath, used, free, d.cfg.Space.DemuxFactor); err != nil {
		return nil, step.Preflight("Not enough disk space to perform demultiplexing for run "+runID, err)
	}

	name := SampleSheetName(d.cfg.Demux.Bcl2fastq.SampleSheetPrefix, id)
	j.sampleSheet = filepath.Join(d.cfg.Demux.Bcl2fastq.SampleSheetsPath, name+".csv")
	if _, err := os.Stat(j.sampleSheet); err != nil {
		j.sampleSheet = filepath.Join(input, "SampleSheet.csv")
		if _, err := os.Stat(j.sampleSheet); err != nil {
			return nil, step.Preflight("No bcl2fastq samplesheet found for run "+runID,
				fmt.Errorf("no bcl2fastq samplesheet found for run %s: you must provide a %s.csv file in %s "+
					"or a SampleSheet.csv file in the root of the run directory", runID, name, d.cfg.Demux.Bcl2fastq.SampleSheetsPath))
		}
	}
	j.tmpSheet = filepath.Join(d.cfg.TmpPath, name+".csv")
	return j, nil
}

// Run demultiplexes runID into fastq.data.path/{run}.
func (d *Demux) Run(ctx context.Context, runID string) error {
	start := d.now()
	logger := d.logger.WithField("run", runID)
	logger.Info().Msg("Demux step: starting")

	j, err := d.prepare(ctx, runID)
	if err != nil {
		return err
	}
	onMsg := " for run " + runID + " on " + j.instrument

	if err := copyFile(j.sampleSheet, j.tmpSheet); err != nil {
		return step.Execution("Error while writing Bcl2fastq samplesheet: "+j.tmpSheet, err)
	}
	defer os.Remove(j.tmpSheet)

	cmd, err := d.command(j)
	if err != nil {
		return err
	}
	if err := d.run(ctx, cmd, j); err != nil {
		se := step.Execution("Error while executing bcl2fastq"+onMsg, err)
		if info, statErr := os.Stat(j.errLog); statErr == nil && info.Size() > 0 {
			se.Err = fmt.Errorf("%w\n\nPlease check the attached bcl2fastq output error file", err)
			se = se.WithAttachment(j.errLog)
		}
		return se
	}

	if info, err := os.Stat(j.output); err != nil || !info.IsDir() {
		return step.Execution("Error while demultiplexing run "+runID+" on "+j.instrument,
			fmt.Errorf("the output directory of bcl2fastq has not been created: %s", j.output))
	}

	for _, log := range []string{j.outLog, j.errLog} {
		if err := copyFile(log, filepath.Join(j.output, filepath.Base(log))); err != nil {
			return step.Execution("Error while copying bcl2fastq log to the output FASTQ directory"+onMsg, err)
		}
	}

	if !hasFastq(j.output) {
		return step.Execution("Error with bcl2fastq execution for run "+runID,
			fmt.Errorf("no FASTQ file found in %s", j.output))
	}
	if d.cfg.ReadOnlyOutputFiles {
		if err := chmodFastq(j.output); err != nil {
			return step.Execution("Error while setting the output FASTQ directory to read only"+onMsg, err)
		}
	}

	if err := copyFile(j.tmpSheet, filepath.Join(j.output, "SampleSheet.csv")); err != nil {
		return step.Execution("Error while copying samplesheet file to FASTQ directory for run "+runID, err)
	}
	if err := d.archive(ctx, j); err != nil {
		return err
	}

	d.sendEndMail(ctx, j, d.now().Sub(start))
	logger.Info().Str("duration", notify.FormatDuration(d.now().Sub(start))).Msg("Demux step: successful")
	return nil
}

// bcl2fastqArgs returns the bcl2fastq arguments for the given paths, as
// seen by bcl2fastq.
func (d *Demux) bcl2fastqArgs(input, output, sampleSheet string) []string {
	bc := d.cfg.Demux.Bcl2fastq
	threads := strconv.Itoa(bc.Threads)

	args := []string{
		"--loading-threads", threads,
		"--demultiplexing-threads", threads,
		"--processing-threads", threads,
		"--writing-threads", threads,
		"--sample-sheet", sampleSheet,
		"--barcode-mismatches", strconv.Itoa(bc.Mismatches),
		"--input-dir", input + "/Data/Intensities/BaseCalls",
		"--output-dir", output,
	}
	if bc.WithFailedReads {
		args = append(args, "--with-failed-reads")
	}
	args = append(args,
		"--runfolder-dir", input,
		"--interop-dir", output+"/InterOp",
		"--min-log-level", "TRACE",
	)
	if bc.CompressionLevel > 0 && bc.CompressionLevel < 10 {
		args = append(args, "--fastq-compression-level", strconv.Itoa(bc.CompressionLevel))
	}
	return append(args, strings.Fields(bc.AdditionalArguments)...)
}

// command builds the bcl2fastq invocation, standalone or through docker.
func (d *Demux) command(j *job) (command.Cmd, error) {
	bc := d.cfg.Demux.Bcl2fastq

	if bc.UseDocker {
		if bc.DockerImage == "" {
			return command.Cmd{}, step.Config("no bcl2fastq docker image configured", errors.New("bcl2fastq.docker.image is empty"))
		}
		output := dockerOutput + "/" + filepath.Base(j.output)
		args := []string{"run", "--rm",
			"-v", j.input + ":" + dockerInput,
			"-v", filepath.Dir(j.output) + ":" + dockerOutput,
			"-v", d.cfg.TmpPath + ":" + dockerTmp,
			"-u", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
			bc.DockerImage, "bcl2fastq",
		}
		args = append(args, d.bcl2fastqArgs(dockerInput, output, dockerTmp+"/"+filepath.Base(j.tmpSheet))...)
		return command.Cmd{Name: "docker", Args: args}, nil
	}

	path := bc.Path
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return command.Cmd{}, step.Preflight("Bcl2fastq directory does not exist",
			fmt.Errorf("invalid bcl2fastq path: %s", path))
	case info.IsDir():
		path = filepath.Join(path, "bcl2fastq")
	}
	return command.Cmd{Name: path, Args: d.bcl2fastqArgs(j.input, j.output, j.tmpSheet)}, nil
}

// run executes bcl2fastq with its output saved in the tmp directory.
func (d *Demux) run(ctx context.Context, cmd command.Cmd, j *job) error {
	out, err := os.Create(j.outLog)
	if err != nil {
		return fmt.Errorf("cannot create bcl2fastq log: %w", err)
	}
	defer out.Close()
	errFile, err := os.Create(j.errLog)
	if err != nil {
		return fmt.Errorf("cannot create bcl2fastq log: %w", err)
	}
	defer errFile.Close()

	cmd.Stdout, cmd.Stderr = out, errFile
	d.logger.Info().Str("run", j.runID).Str("command", cmd.String()).Msg("Demultiplexing using the following command line")
	if _, err := d.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("command line:\n%s: %w", cmd.String(), err)
	}
	return nil
}

// archive saves the demultiplexing statistics and the samplesheet in the
// report directory of the run.
func (d *Demux) archive(ctx context.Context, j *job) error {
	statsName := constants.BasecallStatsArchivePrefix + j.runID
	statsPath := filepath.Join(j.reportDir, j.statsFile)
	saveErr := "Error while saving the basecall stats files for " + j.runID

	if err := tar.CreateTarBz2(statsPath, statsName, j.output, statsEntries); err != nil {
		return step.Execution(saveErr, err)
	}
	if d.cfg.ReadOnlyOutputFiles {
		if err := os.Chmod(statsPath, 0444); err != nil {
			return step.Execution(saveErr, err)
		}
	}

	dest := filepath.Join(j.reportDir, statsName)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return step.Execution(saveErr, err)
	}
	cmd := command.Cmd{
		Name: "cp",
		Args: append(append([]string{"-rp"}, tar.ExistingEntries(j.output, statsEntries)...), dest),
		Dir:  j.output,
	}
	if _, err := d.runner.Run(ctx, cmd); err != nil {
		return step.Execution(saveErr, fmt.Errorf("command line:\n%s: %w", cmd.String(), err))
	}

	if err := copyFile(j.tmpSheet, filepath.Join(j.reportDir, filepath.Base(j.tmpSheet))); err != nil {
		return step.Execution("Error while archiving the samplesheet file for "+j.runID, err)
	}

	if d.uploader != nil {
		if err := d.uploader.Upload(ctx, statsPath, storage.RunKey(j.runID, j.statsFile)); err != nil {
			d.notifier.Report(ctx, notify.CategoryDemux, "cannot upload "+j.statsFile+" for run "+j.runID, err.Error())
		}
	}
	return nil
}

func (d *Demux) sendEndMail(ctx context.Context, j *job, elapsed time.Duration) {
	used, err := d.meter.UsedSpace(ctx, j.output)
	if err != nil {
		d.logger.Warn().Err(err).Str("path", j.output).Msg("Cannot compute space used by demux")
	}
	free, err := d.meter.FreeSpace(j.output)
	if err != nil {
		d.logger.Warn().Err(err).Str("path", j.output).Msg("Cannot compute free space after demux")
	}

	msg := fmt.Sprintf("Ending demultiplexing with %d mismatch(es) for run %s.\nJob finished at %s without error in %s.\n\n"+
		"FASTQ files for this run can be found in the following directory:\n  %s",
		d.cfg.Demux.Bcl2fastq.Mismatches, j.runID, d.now().Format(notify.HumanTime), notify.FormatDuration(elapsed), j.output)
	if d.cfg.ReportsURL != "" {
		msg += "\n\nRun reports can be found at following location:\n  " + d.cfg.ReportsURL + "/" + j.runID
	}
	msg += fmt.Sprintf("\n\nFor this task %s has been used and %s still free.", diskspace.FormatGb(used), diskspace.FormatGb(free))

	d.notifier.Send(ctx, constants.SubjectPrefix+"Ending demultiplexing for run "+j.runID+" on "+j.instrument, msg)
}

// hasFastq reports whether bcl2fastq wrote at least one FASTQ file at the
// top of dir.
func hasFastq(dir string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, "*fastq*"))
	return err == nil && len(matches) > 0
}

// chmodFastq makes the FASTQ files under dir read only.
func chmodFastq(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && strings.Contains(info.Name(), ".fastq") {
			return os.Chmod(path, 0444)
		}
		return nil
	})
}

// copyFile copies src to dst, keeping the modification time of src.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
