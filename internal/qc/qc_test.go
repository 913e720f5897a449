package qc

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GenomiqueENS/aozan/internal/command"
	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/notify"
	"github.com/GenomiqueENS/aozan/internal/step"
	"github.com/GenomiqueENS/aozan/internal/util/tar"
)

const testRun = "140312_SN1234_0042_AH8XYZADXX"

type fakeMeter struct{ free int64 }

func (m *fakeMeter) FreeSpace(string) (int64, error) { return m.free, nil }

func (m *fakeMeter) UsedSpace(context.Context, string) (int64, error) { return 4 * constants.MiB, nil }

type mail struct{ subject, attachment string }

type fakeNotifier struct {
	sent     []mail
	reported []string
}

func (n *fakeNotifier) Report(_ context.Context, _ notify.Category, short, _ string) {
	n.reported = append(n.reported, short)
}

func (n *fakeNotifier) SendWithAttachment(_ context.Context, subject, _, attachment string) {
	n.sent = append(n.sent, mail{subject, attachment})
}

type fakeRuns struct{ input string }

func (r fakeRuns) InputDir(string) (string, bool) {
	return r.input, r.input != ""
}

func (fakeRuns) InstrumentName(string) string { return "hiseq-1" }

type fakeUploader struct{ keys []string }

func (u *fakeUploader) Upload(_ context.Context, _, key string) error {
	u.keys = append(u.keys, key)
	return nil
}

func (u *fakeUploader) Location(key string) string { return "mem://" + key }

func argValue(args []string, name string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

// qcProgram writes a report the way the QC program does.
func qcProgram(_ context.Context, c command.Cmd) (command.Result, error) {
	out := argValue(c.Args, "--output-dir")
	run := argValue(c.Args, "--run-id")
	if err := os.WriteFile(filepath.Join(out, run+".html"), []byte("<html/>"), 0644); err != nil {
		return command.Result{}, err
	}
	return command.Result{}, os.WriteFile(filepath.Join(out, "data-"+run+".txt"), []byte("qc.lane1.reads=42\n"), 0644)
}

type fixture struct {
	cfg      *config.Config
	meter    *fakeMeter
	runner   *command.Fake
	notifier *fakeNotifier
	uploader *fakeUploader
	qc       *QC
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	t.Cleanup(func() {
		// Let the temporary directory be removed.
		_ = filepath.WalkDir(root, func(path string, _ fs.DirEntry, _ error) error {
			_ = os.Chmod(path, 0755)
			return nil
		})
	})

	cfg := config.Default()
	cfg.BclDataPath = filepath.Join(root, "bcl")
	cfg.FastqDataPath = filepath.Join(root, "fastq")
	cfg.ReportsDataPath = filepath.Join(root, "reports")
	cfg.TmpPath = filepath.Join(root, "tmp")
	cfg.ReadOnlyOutputFiles = true
	cfg.QC.Command = "aozan-qc"
	cfg.QC.Threads = 4
	cfg.Extra["qc.test.fastqscreen.enable"] = "true"
	cfg.Extra["index.sequence.ACGT"] = "A01"
	for _, d := range []string{cfg.BclDataPath, cfg.FastqDataPath, cfg.ReportsDataPath, cfg.TmpPath} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}
	input := filepath.Join(cfg.BclDataPath, testRun)
	require.NoError(t, os.MkdirAll(input, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.FastqDataPath, testRun), 0755))

	f := &fixture{
		cfg:      cfg,
		meter:    &fakeMeter{free: 100 * constants.GiB},
		runner:   &command.Fake{Handler: qcProgram},
		notifier: &fakeNotifier{},
		uploader: &fakeUploader{},
	}
	f.qc = New(cfg, f.meter, f.runner, f.notifier, fakeRuns{input: input}, f.uploader, nil)
	return f
}

func TestQC(t *testing.T) {
	f := newFixture(t)

	var settings string
	f.runner.Handler = func(ctx context.Context, c command.Cmd) (command.Result, error) {
		content, err := os.ReadFile(argValue(c.Args, "--conf"))
		require.NoError(t, err)
		settings = string(content)
		return qcProgram(ctx, c)
	}

	require.NoError(t, f.qc.Run(t.Context(), testRun))

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	reportDir := filepath.Join(f.cfg.ReportsDataPath, testRun)
	assert.Equal(t, "aozan-qc", calls[0].Name)
	assert.Equal(t, filepath.Join(reportDir, "qc_"+testRun+".tmp"), argValue(calls[0].Args, "--output-dir"))
	assert.Equal(t, filepath.Join(f.cfg.FastqDataPath, testRun), argValue(calls[0].Args, "--fastq-dir"))
	assert.Equal(t, "4", argValue(calls[0].Args, "--threads"))
	assert.Equal(t, "qc.test.fastqscreen.enable=true\n", settings)

	output := filepath.Join(reportDir, "qc_"+testRun)
	assert.DirExists(t, output)
	assert.NoDirExists(t, output+".tmp")

	archive := output + ".tar.bz2"
	entries, err := tar.List(archive)
	require.NoError(t, err)
	assert.Contains(t, entries, "qc_"+testRun+"/"+testRun+".html")
	info, err := os.Stat(archive)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), info.Mode().Perm())

	info, err = os.Stat(output)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0555), info.Mode().Perm())
	info, err = os.Stat(filepath.Join(output, testRun+".html"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), info.Mode().Perm())

	assert.Equal(t, []string{testRun + "/qc_" + testRun + ".tar.bz2"}, f.uploader.keys)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "[Aozan] Ending quality control for run "+testRun+" on hiseq-1", f.notifier.sent[0].subject)
	assert.Equal(t, filepath.Join(output, testRun+".html"), f.notifier.sent[0].attachment)
	assert.NoFileExists(t, filepath.Join(f.cfg.TmpPath, "qc_"+testRun+".conf"))
}

func TestQC_Preflight(t *testing.T) {
	t.Run("Report exists", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, os.MkdirAll(filepath.Join(f.cfg.ReportsDataPath, testRun, "qc_"+testRun), 0755))
		err := f.qc.Run(t.Context(), testRun)
		assert.Equal(t, step.KindPreflight, step.KindOf(err))
		assert.Empty(t, f.runner.Calls())
	})

	t.Run("Archive exists", func(t *testing.T) {
		f := newFixture(t)
		dir := filepath.Join(f.cfg.ReportsDataPath, testRun)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "qc_"+testRun+".tar.bz2"), nil, 0644))
		err := f.qc.Run(t.Context(), testRun)
		assert.Equal(t, step.KindPreflight, step.KindOf(err))
	})

	t.Run("Low report space", func(t *testing.T) {
		f := newFixture(t)
		f.meter.free = constants.GiB - 1
		err := f.qc.Run(t.Context(), testRun)
		assert.Equal(t, step.KindPreflight, step.KindOf(err))
		assert.Contains(t, err.Error(), "Not enough disk space")
	})

	t.Run("No input", func(t *testing.T) {
		f := newFixture(t)
		f.qc.runs = fakeRuns{}
		err := f.qc.Run(t.Context(), testRun)
		assert.Equal(t, step.KindPreflight, step.KindOf(err))
	})
}

func TestQC_Failures(t *testing.T) {
	t.Run("Program fails", func(t *testing.T) {
		f := newFixture(t)
		f.runner.Handler = func(_ context.Context, c command.Cmd) (command.Result, error) {
			return command.Result{ExitCode: 2}, &command.ExitError{Cmd: c.String(), Code: 2}
		}
		err := f.qc.Run(t.Context(), testRun)
		se := step.AsError(err)
		assert.Equal(t, step.KindExecution, se.Kind)
		assert.Equal(t, "Error while computing QC report for run "+testRun+".", se.Short)
		var exitErr *command.ExitError
		assert.True(t, errors.As(err, &exitErr))
		assert.Empty(t, f.notifier.sent)
	})

	t.Run("No HTML report", func(t *testing.T) {
		f := newFixture(t)
		f.runner.Handler = nil
		err := f.qc.Run(t.Context(), testRun)
		assert.Equal(t, step.KindExecution, step.KindOf(err))
		assert.Contains(t, err.Error(), "no HTML report generated")
	})
}
