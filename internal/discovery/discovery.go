// Package discovery finds sequencer runs in the instrument output
// directories and announces new and finished runs.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/diskspace"
	"github.com/GenomiqueENS/aozan/internal/illumina"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/notify"
	"github.com/GenomiqueENS/aozan/internal/runid"
	"github.com/GenomiqueENS/aozan/internal/runset"
)

// Notifier sends the discovery notifications and alerts.
type Notifier interface {
	Report(ctx context.Context, category notify.Category, short, full string)
	Send(ctx context.Context, subject, body string)
	SendWithAttachment(ctx context.Context, subject, body, attachment string)
}

// Discovery scans the instrument output roots of a configuration.
type Discovery struct {
	cfg      *config.Config
	meter    diskspace.Meter
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time

	// Welcome is called before each run announcement.
	Welcome func()
}

// New creates a Discovery.
func New(cfg *config.Config, meter diskspace.Meter, notifier Notifier, logger *logging.Logger) *Discovery {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Discovery{
		cfg:      cfg,
		meter:    meter,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SetWelcome sets the hook called before each run announcement.
func (d *Discovery) SetWelcome(f func()) {
	d.Welcome = f
}

// RunRoot returns the first instrument root holding a directory named runID.
func (d *Discovery) RunRoot(runID string) (string, bool) {
	for _, root := range d.cfg.HiSeqDataPaths {
		if info, err := os.Stat(filepath.Join(root, runID)); err == nil && info.IsDir() {
			return root, true
		}
	}
	return "", false
}

// RunDir returns the instrument output directory of runID.
func (d *Discovery) RunDir(runID string) (string, bool) {
	root, ok := d.RunRoot(runID)
	if !ok {
		return "", false
	}
	return filepath.Join(root, runID), true
}

// runs maps every run directory found under the roots to its root. A run
// present under several roots belongs to the first one.
func (d *Discovery) runs() map[string]string {
	found := make(map[string]string)
	for _, root := range d.cfg.HiSeqDataPaths {
		entries, err := os.ReadDir(root)
		if err != nil {
			d.logger.Error().Err(err).Str("path", root).Msg("Cannot list instrument output directory")
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !runid.IsValid(e.Name()) {
				continue
			}
			if _, seen := found[e.Name()]; !seen {
				found[e.Name()] = root
			}
		}
	}
	return found
}

// readCompleteFiles returns the per-read completion markers of a run. Their
// names depend on the RTA generation.
func readCompleteFiles(runDir string, reads int) []string {
	prefix, suffix := constants.RTA2ReadCompletePrefix, constants.RTA2ReadCompleteSuffix
	if major, err := illumina.RTAMajorVersion(runDir); err == nil && major == 1 {
		prefix, suffix = constants.RTA1ReadCompletePrefix, constants.RTA1ReadCompleteSuffix
	}
	files := make([]string, 0, reads)
	for i := 1; i <= reads; i++ {
		files = append(files, filepath.Join(runDir, prefix+strconv.Itoa(i)+suffix))
	}
	return files
}

// IsFinished reports whether the instrument has finished writing runDir.
func IsFinished(runDir string) bool {
	info, err := illumina.ReadRunInfo(runDir)
	if err != nil {
		return false
	}
	for _, f := range readCompleteFiles(runDir, info.ReadCount()) {
		if _, err := os.Stat(f); err != nil {
			return false
		}
	}
	_, err = os.Stat(filepath.Join(runDir, constants.RTACompleteFile))
	return err == nil
}

// EndTime returns the time the last read of runDir completed.
func EndTime(runDir string) (time.Time, bool) {
	info, err := illumina.ReadRunInfo(runDir)
	if err != nil {
		return time.Time{}, false
	}
	var last time.Time
	for _, f := range readCompleteFiles(runDir, info.ReadCount()) {
		st, err := os.Stat(f)
		if err != nil {
			return time.Time{}, false
		}
		if st.ModTime().After(last) {
			last = st.ModTime()
		}
	}
	if last.IsZero() {
		st, err := os.Stat(filepath.Join(runDir, constants.RTACompleteFile))
		if err != nil {
			return time.Time{}, false
		}
		last = st.ModTime()
	}
	return last, true
}

// FinishedRuns returns the runs the instrument has finished.
func (d *Discovery) FinishedRuns() runset.Set {
	finished := runset.NewSet()
	for id, root := range d.runs() {
		if IsFinished(filepath.Join(root, id)) {
			finished.Add(id)
		}
	}
	return finished
}

// WorkingRuns returns the runs still being written by the instrument.
func (d *Discovery) WorkingRuns() runset.Set {
	working := runset.NewSet()
	for id, root := range d.runs() {
		if !IsFinished(filepath.Join(root, id)) {
			working.Add(id)
		}
	}
	return working
}

// InstrumentName names the instrument of a run, from configuration first,
// then from the run parameters.
func (d *Discovery) InstrumentName(runID string) string {
	serial := runID
	if id, err := runid.Parse(runID); err == nil {
		serial = id.Instrument
	}
	if name, ok := d.cfg.InstrumentName(serial); ok {
		return name
	}
	if dir, ok := d.RunDir(runID); ok {
		if model, err := illumina.InstrumentModel(dir); err == nil {
			return model
		}
	}
	return serial
}

// DiscoverFinishedRuns announces runs the instrument finished since the last
// invocation, records them in hiseq.done (or hiseq.deny for runs without
// reads) and returns the hiseq.done set.
func (d *Discovery) DiscoverFinishedRuns(ctx context.Context, denied runset.Set) (runset.Set, error) {
	doneFile := runset.Open(d.cfg.VarFile(constants.HiSeqDoneFile))
	done, err := doneFile.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", doneFile.Path(), err)
	}
	if !d.cfg.Steps.HiSeq {
		return done, nil
	}

	denyFile := runset.Open(d.cfg.VarFile(constants.HiSeqDenyFile))
	for _, id := range d.FinishedRuns().Minus(done, denied).Sorted() {
		if ctx.Err() != nil {
			break
		}
		d.welcome()
		d.logger.Info().Str("run", id).Str("instrument", d.InstrumentName(id)).Msg("Ending run detection")

		dir, _ := d.RunDir(id)
		info, err := illumina.ReadRunInfo(dir)
		if err != nil {
			d.notifier.Report(ctx, notify.CategoryHiSeq, "cannot read the run description of run "+id, err.Error())
			continue
		}

		if info.ReadCount() == 0 {
			d.sendRunMail(ctx, id, "Failed run", "A run (%s) has failed on %s at %s.", true)
			if err := denyFile.Append(id); err != nil {
				return done, fmt.Errorf("failed to deny run %s: %w", id, err)
			}
			continue
		}

		d.sendRunMail(ctx, id, "Ending run", "A new run (%s) is finished on %s at %s.", false)
		if err := doneFile.Append(id); err != nil {
			return done, fmt.Errorf("failed to record run %s as finished: %w", id, err)
		}
		done.Add(id)
	}
	return done, nil
}

// sendRunMail sends an end of run notification. Unless always is set, runs
// that ended too long ago are not announced.
func (d *Discovery) sendRunMail(ctx context.Context, id, title, sentence string, always bool) {
	root, ok := d.RunRoot(id)
	if !ok {
		return
	}
	dir := filepath.Join(root, id)

	end, ok := EndTime(dir)
	if !ok {
		if !always {
			return
		}
		end = d.now()
	}
	if !always && d.now().Sub(end) >= constants.RecentRunMailMaxDelay {
		d.logger.Debug().Str("run", id).Time("end", end).Msg("Run ended too long ago, no notification")
		return
	}

	used, err := d.meter.UsedSpace(ctx, dir)
	if err != nil {
		d.logger.Warn().Err(err).Str("path", dir).Msg("Cannot compute run size")
	}
	free, err := d.meter.FreeSpace(root)
	if err != nil {
		d.logger.Warn().Err(err).Str("path", root).Msg("Cannot compute free space")
	}

	instrument := d.InstrumentName(id)
	body := fmt.Sprintf(sentence, id, instrument, end.Format(notify.HumanTime)) +
		"\nData for this run can be found at: " + root +
		fmt.Sprintf("\n\nFor this task %s has been used and %s still free.",
			diskspace.FormatGb(used), diskspace.FormatGb(free))
	d.notifier.Send(ctx, fmt.Sprintf("%s%s %s on %s", constants.SubjectPrefix, title, id, instrument), body)
}

// DiscoverNewRuns announces runs the instrument started since the last
// invocation, records them in first_base_report.done and estimates the space
// they will need.
func (d *Discovery) DiscoverNewRuns(ctx context.Context, denied runset.Set) error {
	if !d.cfg.Steps.FirstBaseReport {
		return nil
	}

	doneFile := runset.Open(d.cfg.VarFile(constants.FirstBaseReportDoneFile))
	done, err := doneFile.Load()
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", doneFile.Path(), err)
	}
	hiseqDeny, err := runset.Load(d.cfg.VarFile(constants.HiSeqDenyFile))
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", constants.HiSeqDenyFile, err)
	}

	for _, id := range d.newRuns().Minus(done, denied, hiseqDeny).Sorted() {
		if ctx.Err() != nil {
			break
		}
		d.welcome()
		d.logger.Info().Str("run", id).Str("instrument", d.InstrumentName(id)).Msg("First base report")

		dir, _ := d.RunDir(id)
		info, err := illumina.ReadRunInfo(dir)
		if err != nil {
			d.logger.Warn().Err(err).Str("run", id).Msg("Cannot read run description")
			continue
		}

		d.sendFirstBaseReport(ctx, id, dir, info)
		if err := doneFile.Append(id); err != nil {
			return fmt.Errorf("failed to record run %s as discovered: %w", id, err)
		}
		d.EstimateSpace(ctx, id, info)
	}
	return nil
}

// newRuns returns the runs in progress that have a run description. RTA 1
// runs also wait for their first base report.
func (d *Discovery) newRuns() runset.Set {
	found := runset.NewSet()
	for id, root := range d.runs() {
		dir := filepath.Join(root, id)
		if _, err := os.Stat(filepath.Join(dir, constants.RunInfoFile)); err != nil {
			continue
		}
		if major, err := illumina.RTAMajorVersion(dir); err == nil && major == 1 {
			if _, err := os.Stat(filepath.Join(dir, constants.FirstBaseReportFile)); err != nil {
				continue
			}
		}
		if !IsFinished(dir) {
			found.Add(id)
		}
	}
	return found
}

func (d *Discovery) sendFirstBaseReport(ctx context.Context, id, dir string, info *illumina.RunInfo) {
	s := info.Summarize()
	runType := s.RunType()
	instrument := d.InstrumentName(id)

	var b strings.Builder
	b.WriteString("Informations about this run:\n")
	fmt.Fprintf(&b, "\t- Sequencer: %s.\n", instrument)
	fmt.Fprintf(&b, "\t- %d lanes with %d aligned to Phix.\n", info.LaneCount, len(info.AlignToPhiX))
	fmt.Fprintf(&b, "\t- %d %s and %d %s.\n", s.Reads, plural(s.Reads, "read", "reads"),
		s.Indexes, plural(s.Indexes, "index", "indexes"))
	if s.SameCycles {
		fmt.Fprintf(&b, "\t- %d cycles per read (%d total cycles).\n", s.CyclesPerRead, s.TotalCycles)
	} else {
		fmt.Fprintf(&b, "\t- ERROR : cycles count per read different between reads (%d total cycles).\n", s.TotalCycles)
	}
	fmt.Fprintf(&b, "\t- Estimated run type: %s.\n", runType)

	report := filepath.Join(dir, constants.FirstBaseReportFile)
	if f, err := os.Open(report); err == nil {
		f.Close()
		d.notifier.SendWithAttachment(ctx,
			fmt.Sprintf("%sFirst base report for the run %s  %s on %s", constants.SubjectPrefix, runType, id, instrument),
			"You will find attached to this message the first base report for the run "+id+".\n\n"+b.String(),
			report)
		return
	}
	d.notifier.Send(ctx,
		fmt.Sprintf("%sNew run %s %s on %s", constants.SubjectPrefix, runType, id, instrument),
		"You will find below the parameters of the run "+id+".\n\n"+b.String())
}

func plural(n int, one, many string) string {
	if n > 1 {
		return many
	}
	return one
}

func (d *Discovery) welcome() {
	if d.Welcome != nil {
		d.Welcome()
	}
}
