// Package config provides the typed configuration of an Aozan invocation.
//
// The configuration file is a list of key=value lines:
//
//	aozan.var.path = /var/lib/aozan
//	hiseq.data.path = /data/hiseq1:/data/hiseq2
//	bcl.data.path = /data/bcl
//	fastq.data.path = /data/fastq
//	reports.data.path = /data/reports
//	include = /etc/aozan/mail.conf
//
// Keys are read once at startup into Config. Legacy key names are mapped to
// their current name while loading, and keys the orchestrator does not know
// are kept in Config.Extra for the QC program.
package config

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/GenomiqueENS/aozan/internal/constants"
)

// Config is the complete configuration of one invocation.
type Config struct {
	// Enabled is aozan.enable. When false the invocation exits 0 immediately.
	Enabled bool

	// Debug forces the debug log level.
	Debug bool

	// LogPath is an optional file the log is appended to. Empty means stderr.
	LogPath string

	// LogLevel is a level name such as SEVERE, WARNING, INFO or FINE.
	LogLevel string

	// VarPath holds the done/deny/lasterr/priority files.
	VarPath string

	// LockFile is the program-wide process lock.
	LockFile string

	TmpPath string

	// HiSeqDataPaths are the instrument output roots (hiseq.data.path, colon separated).
	HiSeqDataPaths  []string
	BclDataPath     string
	FastqDataPath   string
	ReportsDataPath string
	ReportsURL      string

	// ReadOnlyOutputFiles makes archives and report directories read-only once written.
	ReadOnlyOutputFiles bool

	Steps      StepsConfig
	Lock       LockConfig
	Space      SpaceConfig
	Sync       SyncConfig
	Demux      DemuxConfig
	Recompress RecompressConfig
	QC         QCConfig
	Mail       MailConfig
	Webhook    WebhookConfig
	Archive    ArchiveConfig

	// LastErrExpiry makes an identical error re-alert once its record is
	// older than this. Zero means records never expire.
	LastErrExpiry time.Duration

	// RescanMaxIterations bounds the extra discovery passes of an invocation.
	RescanMaxIterations int

	// MetricsTextfile is an optional Prometheus textfile written at the end of an invocation.
	MetricsTextfile string

	// Extra holds keys not consumed by the orchestrator.
	Extra map[string]string

	// Source is the path of the main configuration file.
	Source string
}

// StepsConfig enables pipeline steps.
type StepsConfig struct {
	FirstBaseReport bool
	HiSeq           bool
	Sync            bool
	Demux           bool
	Recompress      bool
	QC              bool
}

// LockConfig tunes step lock markers and the process lock alert.
type LockConfig struct {
	// StepFailOpen treats an uncreatable step lock marker as acquired.
	StepFailOpen bool

	// StepReclaimStale removes markers left on this host by dead processes.
	StepReclaimStale bool

	// AlertAge raises an alert when another invocation holds the process
	// lock for longer than this. Zero disables the alert.
	AlertAge time.Duration
}

// SpaceConfig holds free-space thresholds and size factors.
type SpaceConfig struct {
	HiSeqWarningMin  int64
	HiSeqCriticalMin int64

	// SyncFactor and DemuxFactor scale the used space of a step input into
	// the space expected on its output volume.
	SyncFactor  float64
	DemuxFactor float64

	// Per-lane per-cycle byte estimates used for the space estimation of new runs.
	HiSeqFactor int64
	BclFactor   int64
	FastqFactor int64
}

// SyncConfig configures the synchronization step.
type SyncConfig struct {
	ExcludeCIF bool

	// Continuous enables the partial synchronization of runs still in progress.
	Continuous bool

	// ContinuousMinAge is the minimum age of a file before a partial sync copies it.
	ContinuousMinAge time.Duration
}

// DemuxConfig configures the demultiplexing step.
type DemuxConfig struct {
	// UseHiSeqOutput reads the instrument output directly instead of the synchronized copy.
	UseHiSeqOutput bool

	Bcl2fastq Bcl2fastqConfig
}

// Bcl2fastqConfig configures the bcl2fastq invocation.
type Bcl2fastqConfig struct {
	Path                string
	SampleSheetsPath    string
	SampleSheetPrefix   string
	Compression         string
	CompressionLevel    int
	Mismatches          int
	Threads             int
	WithFailedReads     bool
	AdditionalArguments string
	UseDocker           bool
	DockerImage         string
}

// RecompressConfig configures the recompression step.
type RecompressConfig struct {
	Threads          int
	Compression      string
	CompressionLevel int
	DeleteOriginal   bool
}

// QCConfig configures the quality control step.
type QCConfig struct {
	// Command is the QC program. It receives the run layout as flags.
	Command string
	Threads int
}

// MailConfig configures mail notifications.
type MailConfig struct {
	Send    bool
	From    string
	To      string
	ErrorTo string
	Header  string
	Footer  string
	SMTP    SMTPConfig
}

// SMTPConfig configures the mail relay.
type SMTPConfig struct {
	Server      string
	Port        int
	UseSSL      bool
	UseStartTLS bool
	Login       string
	Password    string
}

// WebhookConfig configures the JSON webhook notification.
type WebhookConfig struct {
	URL   string
	Proxy ProxyConfig
}

// ProxyConfig configures the HTTP proxy used for outbound requests.
type ProxyConfig struct {
	// Mode is one of none, system, basic or ntlm.
	Mode     string
	Host     string
	Port     int
	User     string
	Password string
	NoProxy  string
}

// ArchiveConfig configures off-host copies of report archives.
type ArchiveConfig struct {
	// Storage is one of none, s3 or azure.
	Storage string
	S3      S3Config
	Azure   AzureConfig
}

// S3Config locates the archive bucket.
type S3Config struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// AzureConfig locates the archive container.
type AzureConfig struct {
	// ContainerURL is a container URL carrying a SAS token.
	ContainerURL string
	Prefix       string
}

// Proxy modes
const (
	ProxyModeNone   = "none"
	ProxyModeSystem = "system"
	ProxyModeBasic  = "basic"
	ProxyModeNTLM   = "ntlm"
)

// Archive storages
const (
	StorageNone  = "none"
	StorageS3    = "s3"
	StorageAzure = "azure"
)

// Compression names
const (
	CompressionGzip  = "gzip"
	CompressionBzip2 = "bzip2"
	CompressionNone  = "none"
)

// Configuration keys
const (
	KeyEnable              = "aozan.enable"
	KeyDebug               = "aozan.debug"
	KeyLogPath             = "aozan.log.path"
	KeyLogLevel            = "aozan.log.level"
	KeyVarPath             = "aozan.var.path"
	KeyLastErrExpiry       = "aozan.lasterr.expiry"
	KeyRescanMaxIterations = "aozan.rescan.max.iterations"
	KeyLockAlertAge        = "aozan.lock.alert.age"
	KeyMetricsTextfile     = "aozan.metrics.textfile"
	KeyLockFile            = "lock.file"
	KeyStepLockFailOpen    = "lock.step.fail.open"
	KeyStepLockReclaim     = "lock.step.reclaim.stale"
	KeyTmpPath             = "tmp.path"
	KeyHiSeqDataPath       = "hiseq.data.path"
	KeyBclDataPath         = "bcl.data.path"
	KeyFastqDataPath       = "fastq.data.path"
	KeyReportsDataPath     = "reports.data.path"
	KeyReportsURL          = "reports.url"
	KeyReadOnlyOutputFiles = "read.only.output.files"

	KeyFirstBaseReportStep = "first.base.report.step"
	KeyHiSeqStep           = "hiseq.step"
	KeySyncStep            = "sync.step"
	KeyDemuxStep           = "demux.step"
	KeyRecompressStep      = "recompress.step"
	KeyQCStep              = "qc.step"

	KeyHiSeqWarningMinSpace  = "hiseq.warning.min.space"
	KeyHiSeqCriticalMinSpace = "hiseq.critical.min.space"
	KeySyncSpaceFactor       = "sync.space.factor"
	KeyDemuxSpaceFactor      = "demux.space.factor"
	KeyHiSeqSpaceFactor      = "hiseq.space.factor"
	KeyBclSpaceFactor        = "bcl.space.factor"
	KeyFastqSpaceFactor      = "fastq.space.factor"

	KeySyncExcludeCIF          = "sync.exclude.cif"
	KeySyncContinuous          = "sync.continuous.sync"
	KeySyncContinuousMinAgeMin = "sync.continuous.sync.min.age.files"

	KeyDemuxUseHiSeqOutput           = "demux.use.hiseq.output"
	KeyBcl2fastqPath                 = "bcl2fastq.path"
	KeyBcl2fastqSampleSheetsPath     = "bcl2fastq.samplesheets.path"
	KeyBcl2fastqSampleSheetPrefix    = "bcl2fastq.samplesheet.prefix.filename"
	KeyBcl2fastqCompression          = "bcl2fastq.compression"
	KeyBcl2fastqCompressionLevel     = "bcl2fastq.compression.level"
	KeyBcl2fastqMismatches           = "bcl2fastq.mismatches"
	KeyBcl2fastqThreads              = "bcl2fastq.threads"
	KeyBcl2fastqWithFailedReads      = "bcl2fastq.with.failed.reads"
	KeyBcl2fastqAdditionalArguments  = "bcl2fastq.additionnal.arguments"
	KeyBcl2fastqUseDocker            = "bcl2fastq.use.docker"
	KeyBcl2fastqDockerImage          = "bcl2fastq.docker.image"
	KeyRecompressThreads             = "recompress.threads"
	KeyRecompressCompression         = "recompress.compression"
	KeyRecompressCompressionLevel    = "recompress.compression.level"
	KeyRecompressDeleteOriginalFastq = "recompress.delete.original.fastq.files"

	KeyQCCommand = "qc.command"
	KeyQCThreads = "qc.conf.threads"

	KeySendMail        = "send.mail"
	KeyMailFrom        = "mail.from"
	KeyMailTo          = "mail.to"
	KeyMailErrorTo     = "mail.error.to"
	KeyMailHeader      = "mail.header"
	KeyMailFooter      = "mail.footer"
	KeySMTPServer      = "smtp.server"
	KeySMTPPort        = "smtp.port"
	KeySMTPUseSSL      = "smtp.use.ssl"
	KeySMTPUseStartTLS = "smtp.use.starttls"
	KeySMTPLogin       = "smtp.login"
	KeySMTPPassword    = "smtp.password"

	KeyWebhookURL           = "notify.webhook.url"
	KeyWebhookProxyMode     = "notify.webhook.proxy.mode"
	KeyWebhookProxyHost     = "notify.webhook.proxy.host"
	KeyWebhookProxyPort     = "notify.webhook.proxy.port"
	KeyWebhookProxyUser     = "notify.webhook.proxy.user"
	KeyWebhookProxyPassword = "notify.webhook.proxy.password"
	KeyWebhookProxyNoProxy  = "notify.webhook.proxy.no.proxy"

	KeyArchiveStorage     = "reports.archive.storage"
	KeyArchiveS3Bucket    = "reports.archive.s3.bucket"
	KeyArchiveS3Region    = "reports.archive.s3.region"
	KeyArchiveS3Prefix    = "reports.archive.s3.prefix"
	KeyArchiveS3Endpoint  = "reports.archive.s3.endpoint"
	KeyArchiveS3AccessKey = "reports.archive.s3.access.key"
	KeyArchiveS3SecretKey = "reports.archive.s3.secret.key"
	KeyArchiveAzureURL    = "reports.archive.azure.container.url"
	KeyArchiveAzurePrefix = "reports.archive.azure.prefix"

	// InstrumentNamePrefix is followed by an instrument serial number.
	InstrumentNamePrefix = "sequencer.name."
)

// entry is one default key/value pair.
type entry struct {
	key   string
	value string
}

// defaults returns the default configuration in printing order.
func defaults() []entry {
	cpus := strconv.Itoa(runtime.NumCPU())
	return []entry{
		{KeyEnable, "true"},
		{KeyDebug, "false"},
		{KeyLogPath, ""},
		{KeyLogLevel, "INFO"},
		{KeyVarPath, ""},
		{KeyLastErrExpiry, "0s"},
		{KeyRescanMaxIterations, strconv.Itoa(constants.DefaultRescanIterations)},
		{KeyLockAlertAge, "0s"},
		{KeyMetricsTextfile, ""},
		{KeyLockFile, "/var/lock/aozan.lock"},
		{KeyStepLockFailOpen, "true"},
		{KeyStepLockReclaim, "true"},
		{KeyTmpPath, "/tmp"},
		{KeyHiSeqDataPath, ""},
		{KeyBclDataPath, ""},
		{KeyFastqDataPath, ""},
		{KeyReportsDataPath, ""},
		{KeyReportsURL, ""},
		{KeyReadOnlyOutputFiles, "true"},

		{KeyFirstBaseReportStep, "true"},
		{KeyHiSeqStep, "true"},
		{KeySyncStep, "true"},
		{KeyDemuxStep, "true"},
		{KeyRecompressStep, "false"},
		{KeyQCStep, "false"},

		{KeyHiSeqWarningMinSpace, strconv.FormatInt(3*constants.TiB, 10)},
		{KeyHiSeqCriticalMinSpace, strconv.FormatInt(1*constants.TiB, 10)},
		{KeySyncSpaceFactor, "0.2"},
		{KeyDemuxSpaceFactor, "0.7"},
		{KeyHiSeqSpaceFactor, "3180000000"},
		{KeyBclSpaceFactor, "416000000"},
		{KeyFastqSpaceFactor, "224000000"},

		{KeySyncExcludeCIF, "true"},
		{KeySyncContinuous, "false"},
		{KeySyncContinuousMinAgeMin, "15"},

		{KeyDemuxUseHiSeqOutput, "false"},
		{KeyBcl2fastqPath, "/usr/local/bcl2fastq"},
		{KeyBcl2fastqSampleSheetsPath, ""},
		{KeyBcl2fastqSampleSheetPrefix, "samplesheet"},
		{KeyBcl2fastqCompression, CompressionGzip},
		{KeyBcl2fastqCompressionLevel, "9"},
		{KeyBcl2fastqMismatches, "0"},
		{KeyBcl2fastqThreads, cpus},
		{KeyBcl2fastqWithFailedReads, "true"},
		{KeyBcl2fastqAdditionalArguments, ""},
		{KeyBcl2fastqUseDocker, "false"},
		{KeyBcl2fastqDockerImage, "genomicpariscentre/bcl2fastq2:latest"},

		{KeyRecompressThreads, cpus},
		{KeyRecompressCompression, CompressionBzip2},
		{KeyRecompressCompressionLevel, "9"},
		{KeyRecompressDeleteOriginalFastq, "false"},

		{KeyQCCommand, "aozan-qc"},
		{KeyQCThreads, cpus},

		{KeySendMail, "false"},
		{KeyMailFrom, ""},
		{KeyMailTo, ""},
		{KeyMailErrorTo, ""},
		{KeyMailHeader, `THIS IS AN AUTOMATED MESSAGE.\n\n`},
		{KeyMailFooter, `\n\nThe Aozan team.\n`},
		{KeySMTPServer, ""},
		{KeySMTPPort, "25"},
		{KeySMTPUseSSL, "false"},
		{KeySMTPUseStartTLS, "false"},
		{KeySMTPLogin, ""},
		{KeySMTPPassword, ""},

		{KeyWebhookURL, ""},
		{KeyWebhookProxyMode, ProxyModeNone},
		{KeyWebhookProxyHost, ""},
		{KeyWebhookProxyPort, "0"},
		{KeyWebhookProxyUser, ""},
		{KeyWebhookProxyPassword, ""},
		{KeyWebhookProxyNoProxy, ""},

		{KeyArchiveStorage, StorageNone},
		{KeyArchiveS3Bucket, ""},
		{KeyArchiveS3Region, ""},
		{KeyArchiveS3Prefix, ""},
		{KeyArchiveS3Endpoint, ""},
		{KeyArchiveS3AccessKey, ""},
		{KeyArchiveS3SecretKey, ""},
		{KeyArchiveAzureURL, ""},
		{KeyArchiveAzurePrefix, ""},
	}
}

// known reports whether key is read by the orchestrator.
func known(key string) bool {
	for _, e := range defaults() {
		if e.key == key {
			return true
		}
	}
	return false
}

// Default returns the configuration used when no key is overridden.
func Default() *Config {
	cfg, err := fromValues(nil)
	if err != nil {
		// Defaults are constants; a failure here is a programming error.
		panic(fmt.Sprintf("invalid default configuration: %v", err))
	}
	return cfg
}

// WriteDefaults prints the default configuration as key=value lines.
func WriteDefaults(w io.Writer) error {
	for _, e := range defaults() {
		if _, err := fmt.Fprintf(w, "%s=%s\n", e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

// fromValues builds a Config from defaults overridden by values. values is
// an ordered list in which a later value overrides an earlier one.
func fromValues(values []entry) (*Config, error) {
	file := ini.Empty()
	sec := file.Section("")
	for _, e := range defaults() {
		sec.Key(e.key).SetValue(e.value)
	}

	cfg := &Config{Extra: make(map[string]string)}
	for _, v := range values {
		if known(v.key) {
			sec.Key(v.key).SetValue(v.value)
		} else {
			cfg.Extra[v.key] = v.value
		}
	}

	var err error
	duration := func(key string) time.Duration {
		d, perr := parseDuration(sec.Key(key).String())
		if perr != nil && err == nil {
			err = fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, perr)
		}
		return d
	}

	cfg.Enabled = sec.Key(KeyEnable).MustBool(true)
	cfg.Debug = sec.Key(KeyDebug).MustBool(false)
	cfg.LogPath = sec.Key(KeyLogPath).String()
	cfg.LogLevel = sec.Key(KeyLogLevel).MustString("INFO")
	cfg.VarPath = sec.Key(KeyVarPath).String()
	cfg.LastErrExpiry = duration(KeyLastErrExpiry)
	cfg.RescanMaxIterations = sec.Key(KeyRescanMaxIterations).MustInt(constants.DefaultRescanIterations)
	cfg.MetricsTextfile = sec.Key(KeyMetricsTextfile).String()
	cfg.LockFile = sec.Key(KeyLockFile).String()
	cfg.TmpPath = sec.Key(KeyTmpPath).String()
	cfg.HiSeqDataPaths = splitPaths(sec.Key(KeyHiSeqDataPath).String())
	cfg.BclDataPath = sec.Key(KeyBclDataPath).String()
	cfg.FastqDataPath = sec.Key(KeyFastqDataPath).String()
	cfg.ReportsDataPath = sec.Key(KeyReportsDataPath).String()
	cfg.ReportsURL = sec.Key(KeyReportsURL).String()
	cfg.ReadOnlyOutputFiles = sec.Key(KeyReadOnlyOutputFiles).MustBool(true)

	cfg.Lock = LockConfig{
		StepFailOpen:     sec.Key(KeyStepLockFailOpen).MustBool(true),
		StepReclaimStale: sec.Key(KeyStepLockReclaim).MustBool(true),
		AlertAge:         duration(KeyLockAlertAge),
	}

	cfg.Steps = StepsConfig{
		FirstBaseReport: sec.Key(KeyFirstBaseReportStep).MustBool(true),
		HiSeq:           sec.Key(KeyHiSeqStep).MustBool(true),
		Sync:            sec.Key(KeySyncStep).MustBool(true),
		Demux:           sec.Key(KeyDemuxStep).MustBool(true),
		Recompress:      sec.Key(KeyRecompressStep).MustBool(false),
		QC:              sec.Key(KeyQCStep).MustBool(false),
	}

	cfg.Space = SpaceConfig{
		HiSeqWarningMin:  sec.Key(KeyHiSeqWarningMinSpace).MustInt64(3 * constants.TiB),
		HiSeqCriticalMin: sec.Key(KeyHiSeqCriticalMinSpace).MustInt64(1 * constants.TiB),
		SyncFactor:       sec.Key(KeySyncSpaceFactor).MustFloat64(0.2),
		DemuxFactor:      sec.Key(KeyDemuxSpaceFactor).MustFloat64(0.7),
		HiSeqFactor:      sec.Key(KeyHiSeqSpaceFactor).MustInt64(3180000000),
		BclFactor:        sec.Key(KeyBclSpaceFactor).MustInt64(416000000),
		FastqFactor:      sec.Key(KeyFastqSpaceFactor).MustInt64(224000000),
	}

	cfg.Sync = SyncConfig{
		ExcludeCIF:       sec.Key(KeySyncExcludeCIF).MustBool(true),
		Continuous:       sec.Key(KeySyncContinuous).MustBool(false),
		ContinuousMinAge: time.Duration(sec.Key(KeySyncContinuousMinAgeMin).MustInt(15)) * time.Minute,
	}

	cfg.Demux = DemuxConfig{
		UseHiSeqOutput: sec.Key(KeyDemuxUseHiSeqOutput).MustBool(false),
		Bcl2fastq: Bcl2fastqConfig{
			Path:                sec.Key(KeyBcl2fastqPath).String(),
			SampleSheetsPath:    sec.Key(KeyBcl2fastqSampleSheetsPath).String(),
			SampleSheetPrefix:   sec.Key(KeyBcl2fastqSampleSheetPrefix).MustString("samplesheet"),
			Compression:         strings.ToLower(sec.Key(KeyBcl2fastqCompression).MustString(CompressionGzip)),
			CompressionLevel:    sec.Key(KeyBcl2fastqCompressionLevel).MustInt(9),
			Mismatches:          sec.Key(KeyBcl2fastqMismatches).MustInt(0),
			Threads:             threads(sec.Key(KeyBcl2fastqThreads).MustInt(0)),
			WithFailedReads:     sec.Key(KeyBcl2fastqWithFailedReads).MustBool(true),
			AdditionalArguments: sec.Key(KeyBcl2fastqAdditionalArguments).String(),
			UseDocker:           sec.Key(KeyBcl2fastqUseDocker).MustBool(false),
			DockerImage:         sec.Key(KeyBcl2fastqDockerImage).String(),
		},
	}

	cfg.Recompress = RecompressConfig{
		Threads:          threads(sec.Key(KeyRecompressThreads).MustInt(0)),
		Compression:      strings.ToLower(sec.Key(KeyRecompressCompression).MustString(CompressionBzip2)),
		CompressionLevel: sec.Key(KeyRecompressCompressionLevel).MustInt(9),
		DeleteOriginal:   sec.Key(KeyRecompressDeleteOriginalFastq).MustBool(false),
	}

	cfg.QC = QCConfig{
		Command: sec.Key(KeyQCCommand).String(),
		Threads: threads(sec.Key(KeyQCThreads).MustInt(0)),
	}

	cfg.Mail = MailConfig{
		Send:    sec.Key(KeySendMail).MustBool(false),
		From:    sec.Key(KeyMailFrom).String(),
		To:      sec.Key(KeyMailTo).String(),
		ErrorTo: sec.Key(KeyMailErrorTo).String(),
		Header:  unescapeNewlines(sec.Key(KeyMailHeader).String()),
		Footer:  unescapeNewlines(sec.Key(KeyMailFooter).String()),
		SMTP: SMTPConfig{
			Server:      sec.Key(KeySMTPServer).String(),
			Port:        sec.Key(KeySMTPPort).MustInt(25),
			UseSSL:      sec.Key(KeySMTPUseSSL).MustBool(false),
			UseStartTLS: sec.Key(KeySMTPUseStartTLS).MustBool(false),
			Login:       sec.Key(KeySMTPLogin).String(),
			Password:    sec.Key(KeySMTPPassword).String(),
		},
	}

	cfg.Webhook = WebhookConfig{
		URL: sec.Key(KeyWebhookURL).String(),
		Proxy: ProxyConfig{
			Mode:     strings.ToLower(sec.Key(KeyWebhookProxyMode).MustString(ProxyModeNone)),
			Host:     sec.Key(KeyWebhookProxyHost).String(),
			Port:     sec.Key(KeyWebhookProxyPort).MustInt(0),
			User:     sec.Key(KeyWebhookProxyUser).String(),
			Password: sec.Key(KeyWebhookProxyPassword).String(),
			NoProxy:  sec.Key(KeyWebhookProxyNoProxy).String(),
		},
	}

	cfg.Archive = ArchiveConfig{
		Storage: strings.ToLower(sec.Key(KeyArchiveStorage).MustString(StorageNone)),
		S3: S3Config{
			Bucket:    sec.Key(KeyArchiveS3Bucket).String(),
			Region:    sec.Key(KeyArchiveS3Region).String(),
			Prefix:    sec.Key(KeyArchiveS3Prefix).String(),
			Endpoint:  sec.Key(KeyArchiveS3Endpoint).String(),
			AccessKey: sec.Key(KeyArchiveS3AccessKey).String(),
			SecretKey: sec.Key(KeyArchiveS3SecretKey).String(),
		},
		Azure: AzureConfig{
			ContainerURL: sec.Key(KeyArchiveAzureURL).String(),
			Prefix:       sec.Key(KeyArchiveAzurePrefix).String(),
		},
	}

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// VarFile returns the path of a state file in VarPath.
func (cfg *Config) VarFile(name string) string {
	return filepath.Join(cfg.VarPath, name)
}

// InstrumentName returns the operator-given name of an instrument serial
// (sequencer.name.{serial}).
func (cfg *Config) InstrumentName(serial string) (string, bool) {
	name, ok := cfg.Extra[InstrumentNamePrefix+serial]
	return name, ok && name != ""
}

// splitPaths splits a colon separated path list, dropping empty items.
func splitPaths(value string) []string {
	var paths []string
	for _, p := range strings.Split(value, ":") {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// threads maps a non-positive count to the number of CPUs.
func threads(n int) int {
	if n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(value)
}

func unescapeNewlines(value string) string {
	return strings.ReplaceAll(value, `\n`, "\n")
}
