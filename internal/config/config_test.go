package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "/var/lock/aozan.lock", cfg.LockFile)
	assert.Equal(t, "/tmp", cfg.TmpPath)

	assert.True(t, cfg.Steps.FirstBaseReport)
	assert.True(t, cfg.Steps.HiSeq)
	assert.True(t, cfg.Steps.Sync)
	assert.True(t, cfg.Steps.Demux)
	assert.False(t, cfg.Steps.Recompress)
	assert.False(t, cfg.Steps.QC)

	assert.Equal(t, CompressionBzip2, cfg.Recompress.Compression)
	assert.Equal(t, 9, cfg.Recompress.CompressionLevel)
	assert.Equal(t, runtime.NumCPU(), cfg.Recompress.Threads)
	assert.False(t, cfg.Recompress.DeleteOriginal)

	assert.True(t, cfg.Sync.ExcludeCIF)
	assert.False(t, cfg.Sync.Continuous)
	assert.Equal(t, 15*time.Minute, cfg.Sync.ContinuousMinAge)

	assert.Equal(t, 0.7, cfg.Space.DemuxFactor)
	assert.Equal(t, 0.2, cfg.Space.SyncFactor)
	assert.Equal(t, int64(1024*1024*1024*1024), cfg.Space.HiSeqCriticalMin)

	assert.Equal(t, "samplesheet", cfg.Demux.Bcl2fastq.SampleSheetPrefix)
	assert.Equal(t, "/usr/local/bcl2fastq", cfg.Demux.Bcl2fastq.Path)
	assert.True(t, cfg.Demux.Bcl2fastq.WithFailedReads)

	assert.Equal(t, "THIS IS AN AUTOMATED MESSAGE.\n\n", cfg.Mail.Header)
	assert.Equal(t, "\n\nThe Aozan team.\n", cfg.Mail.Footer)
	assert.Equal(t, 25, cfg.Mail.SMTP.Port)

	assert.True(t, cfg.Lock.StepFailOpen)
	assert.True(t, cfg.Lock.StepReclaimStale)
	assert.Zero(t, cfg.Lock.AlertAge)
	assert.Zero(t, cfg.LastErrExpiry)
	assert.Equal(t, 1, cfg.RescanMaxIterations)
	assert.Empty(t, cfg.Extra)
}

func TestWriteDefaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDefaults(&buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "aozan.enable=true\n"))
	assert.Contains(t, out, "\nlock.file=/var/lock/aozan.lock\n")
	assert.Contains(t, out, "\nrecompress.compression=bzip2\n")
	assert.Contains(t, out, `mail.footer=\n\nThe Aozan team.\n`)
}

func TestLoad(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "aozan.conf"))
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("ValuesAndComments", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConf(t, dir, "aozan.conf", strings.Join([]string{
			"# Aozan configuration",
			"",
			"aozan.var.path = /var/lib/aozan",
			"hiseq.data.path = /data/hiseq1 : /data/hiseq2:",
			"qc.step=True",
			"recompress.threads=0",
			"reports.url=http://example.org/reports?a=b",
			"aozan.lock.alert.age=6h",
			"aozan.lasterr.expiry=3600",
			"sync.continuous.sync.min.age.files=30",
			"qc.conf.fastqscreen.genomes=phix",
			"sequencer.name.SN1234=hiseq-1",
			"",
		}, "\n"))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, path, cfg.Source)
		assert.Equal(t, "/var/lib/aozan", cfg.VarPath)
		assert.Equal(t, []string{"/data/hiseq1", "/data/hiseq2"}, cfg.HiSeqDataPaths)
		assert.True(t, cfg.Steps.QC)
		assert.Equal(t, runtime.NumCPU(), cfg.Recompress.Threads)
		assert.Equal(t, "http://example.org/reports?a=b", cfg.ReportsURL)
		assert.Equal(t, 6*time.Hour, cfg.Lock.AlertAge)
		assert.Equal(t, time.Hour, cfg.LastErrExpiry)
		assert.Equal(t, 30*time.Minute, cfg.Sync.ContinuousMinAge)
		assert.Equal(t, "phix", cfg.Extra["qc.conf.fastqscreen.genomes"])
		name, ok := cfg.InstrumentName("SN1234")
		assert.True(t, ok)
		assert.Equal(t, "hiseq-1", name)
		_, ok = cfg.InstrumentName("NB500892")
		assert.False(t, ok)
		assert.Equal(t, "/var/lib/aozan/sync.done", cfg.VarFile("sync.done"))
	})

	t.Run("LegacyKeys", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConf(t, dir, "aozan.conf", strings.Join([]string{
			"casava.path=/opt/bcl2fastq",
			"casava.samplesheets.path=/data/samplesheets",
			"casava.mismatches=1",
			"demux.use.docker.enable=true",
			"qc.conf.fastqc.threads=4",
		}, "\n"))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/opt/bcl2fastq", cfg.Demux.Bcl2fastq.Path)
		assert.Equal(t, "/data/samplesheets", cfg.Demux.Bcl2fastq.SampleSheetsPath)
		assert.Equal(t, 1, cfg.Demux.Bcl2fastq.Mismatches)
		assert.True(t, cfg.Demux.Bcl2fastq.UseDocker)
		assert.Equal(t, 4, cfg.QC.Threads)
		assert.Equal(t, KeyBcl2fastqPath, CanonicalKey("casava.path"))
		assert.Equal(t, "sync.step", CanonicalKey("sync.step"))
	})

	t.Run("Include", func(t *testing.T) {
		dir := t.TempDir()
		writeConf(t, dir, "mail.conf", "send.mail=true\nmail.to=seq@example.org\nsmtp.port=2525\n")
		path := writeConf(t, dir, "aozan.conf", strings.Join([]string{
			"smtp.port=25",
			"include=mail.conf",
			"include = aozan.conf",
			"mail.from=aozan@example.org",
		}, "\n"))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.True(t, cfg.Mail.Send)
		assert.Equal(t, "seq@example.org", cfg.Mail.To)
		assert.Equal(t, "aozan@example.org", cfg.Mail.From)
		assert.Equal(t, 2525, cfg.Mail.SMTP.Port)
	})

	t.Run("MissingInclude", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConf(t, dir, "aozan.conf", "include=/nonexistent/aozan-extra.conf\n")

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrIncludeNotFound)
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConf(t, dir, "aozan.conf", "aozan.lock.alert.age=soon\n")

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})
}

func TestValidate(t *testing.T) {
	newValid := func(t *testing.T) *Config {
		root := t.TempDir()
		cfg := Default()
		for _, p := range []*string{&cfg.VarPath, &cfg.BclDataPath, &cfg.FastqDataPath, &cfg.ReportsDataPath, &cfg.TmpPath} {
			*p = t.TempDir()
		}
		hiseq := filepath.Join(root, "hiseq")
		require.NoError(t, os.Mkdir(hiseq, 0755))
		cfg.HiSeqDataPaths = []string{hiseq}
		return cfg
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, newValid(t).Validate())
	})

	t.Run("MissingVarPath", func(t *testing.T) {
		cfg := newValid(t)
		cfg.VarPath = ""
		assert.ErrorIs(t, cfg.Validate(), ErrMissingVarPath)
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		cfg := newValid(t)
		cfg.FastqDataPath = filepath.Join(t.TempDir(), "absent")
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrPathNotFound)
		assert.Contains(t, err.Error(), KeyFastqDataPath)
	})

	t.Run("UnusedDirectoryIgnored", func(t *testing.T) {
		cfg := newValid(t)
		cfg.Steps = StepsConfig{Recompress: true}
		cfg.HiSeqDataPaths = nil
		cfg.BclDataPath = ""
		cfg.ReportsDataPath = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("InvalidCompression", func(t *testing.T) {
		cfg := newValid(t)
		cfg.Steps.Recompress = true
		cfg.Recompress.Compression = "xz"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidCompression)
	})

	t.Run("InvalidProxyMode", func(t *testing.T) {
		cfg := newValid(t)
		cfg.Webhook.Proxy.Mode = "socks"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidProxyMode)
	})

	t.Run("IncompleteStorage", func(t *testing.T) {
		cfg := newValid(t)
		cfg.Archive.Storage = StorageS3
		assert.ErrorIs(t, cfg.Validate(), ErrMissingArchiveSetup)
		cfg.Archive.Storage = "ftp"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidStorage)
	})
}

func TestCheckPrograms(t *testing.T) {
	assert.NoError(t, CheckPrograms([]string{"sh"}))

	err := CheckPrograms([]string{"sh", "aozan-no-such-program"})
	assert.ErrorIs(t, err, ErrMissingProgram)
	assert.Contains(t, err.Error(), "aozan-no-such-program")

	cfg := Default()
	assert.Contains(t, cfg.RequiredPrograms(), "rsync")
	assert.NotContains(t, cfg.RequiredPrograms(), "docker")
}
