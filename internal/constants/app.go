// Package constants holds file names, thresholds and defaults shared across
// the pipeline packages.
package constants

import (
	"time"
)

// AppName is the name used in log banners.
const AppName = "Aozan"

// Byte units
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

// Run set file names, relative to aozan.var.path
const (
	HiSeqDoneFile           = "hiseq.done"
	HiSeqDenyFile           = "hiseq.deny"
	FirstBaseReportDoneFile = "first_base_report.done"
	PriorityFile            = "runs.priority"

	// DoneSuffix, DenySuffix and LastErrSuffix are appended to a step name
	// (sync, demux, recompress, qc) to form its state files.
	DoneSuffix    = ".done"
	DenySuffix    = ".deny"
	LastErrSuffix = ".lasterr"
)

// Lock markers
const (
	LockSuffix = ".lock"

	// QCLockPrefix is prepended to the run id for QC markers, which share
	// the reports directory with other files named after the run.
	QCLockPrefix = "qc_"
)

// Run set append locking
const (
	// RunSetLockAttempts - attempts to take the exclusive flock before failing
	RunSetLockAttempts = 100

	// RunSetLockInterval - sleep between flock attempts
	RunSetLockInterval = 50 * time.Millisecond
)

// Instrument end-of-run sentinel files
const (
	RTACompleteFile         = "RTAComplete.txt"
	RunInfoFile             = "RunInfo.xml"
	FirstBaseReportFile     = "First_Base_Report.htm"
	RTA1ReadCompletePrefix  = "Basecalling_Netcopy_complete_Read"
	RTA1ReadCompleteSuffix  = ".txt"
	RTA2ReadCompletePrefix  = "RTARead"
	RTA2ReadCompleteSuffix  = "Complete.txt"
	RecentRunMailMaxDelay   = 12 * time.Hour
	SpaceEstimateMarginRate = 1.15
)

// Space thresholds
const (
	// ReportsMinFreeSpaceSync - below this free space on the reports volume the
	// sync step warns but continues (10 GiB)
	ReportsMinFreeSpaceSync = 10 * GiB

	// ReportsMinFreeSpaceQC - QC refuses to start below this free space (1 GiB)
	ReportsMinFreeSpaceQC = 1 * GiB
)

// Report archive names
const (
	HiSeqLogArchivePrefix      = "hiseq_log_"
	ReportArchivePrefix        = "report_"
	BasecallStatsArchivePrefix = "basecall_stats_"
	QCReportPrefix             = "qc_"
	ArchiveExtension           = ".tar.bz2"
	TmpExtension               = ".tmp"
)

// Alert subject prefixes per failure category
const (
	SubjectPrefix           = "[Aozan] "
	SyncSubjectPrefix       = "[Aozan] synchronizer: "
	DemuxSubjectPrefix      = "[Aozan] demultiplexer: "
	RecompressSubjectPrefix = "[Aozan] recompress: "
	QCSubjectPrefix         = "[Aozan] QC: "
	HiSeqSubjectPrefix      = "[Aozan] hiseq done: "
	SpaceSubjectPrefix      = "[Aozan] estimate space needed : "
)

// RequiredPrograms must be found on PATH before any step runs.
var RequiredPrograms = []string{"bash", "du", "touch", "chmod", "cp", "mv", "rm", "find", "tar"}

// Scheduler
const (
	// DefaultRescanIterations - extra discovery/step passes allowed per invocation
	DefaultRescanIterations = 1

	// WatchDebounce - quiet period before a filesystem event triggers a pass
	WatchDebounce = 30 * time.Second
)

// HTTP client timeouts for the webhook sender
const (
	HTTPDialTimeout         = 30 * time.Second
	HTTPDialKeepAlive       = 30 * time.Second
	HTTPIdleConnTimeout     = 90 * time.Second
	HTTPTLSHandshakeTimeout = 30 * time.Second
	HTTPClientTimeout       = 60 * time.Second
)

// Retry configuration
const (
	// MaxRetries - maximum number of attempts for archive uploads
	MaxRetries = 5

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	RetryMaxDelay = 15 * time.Second
)

// Thread Pool
const (
	// AbsoluteMaxThreads - upper bound for worker pools
	AbsoluteMaxThreads = 64
)

// Recompression pool memory model
const (
	// MemoryPerWorker - memory budget of one recompression worker (pgzip
	// blocks plus the bzip2 block buffers)
	MemoryPerWorker = 256 * MiB

	// MinSystemMemory - floor applied to the detected available memory
	MinSystemMemory = 512 * MiB

	// FallbackAvailableMemory - used when available memory cannot be read
	FallbackAvailableMemory = 2 * GiB
)

// CopyBufferSize is the size of the buffers used to stream FASTQ and archive data.
const CopyBufferSize = 1 * MiB
