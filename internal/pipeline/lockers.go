package pipeline

import (
	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/step"
	"github.com/GenomiqueENS/aozan/internal/steplock"
)

// Lockers holds the step locks. The partial sync shares the sync lock.
type Lockers struct {
	Sync       step.Locker
	Demux      step.Locker
	Recompress step.Locker
	QC         step.Locker
}

// PolicyFromConfig returns the step lock policy of cfg.
func PolicyFromConfig(cfg *config.Config) steplock.Policy {
	return steplock.Policy{
		FailOpenOnLockDirError: cfg.Lock.StepFailOpen,
		ReclaimStale:           cfg.Lock.StepReclaimStale,
	}
}

// NewLockers creates the marker based locks. Sync markers live in the bcl
// directory, demux and recompress markers in the fastq directory and QC
// markers in the reports directory.
func NewLockers(cfg *config.Config, logger *logging.Logger) Lockers {
	policy := PolicyFromConfig(cfg)
	return Lockers{
		Sync:       steplock.New(StepSync, cfg.BclDataPath, "", policy, logger),
		Demux:      steplock.New(StepDemux, cfg.FastqDataPath, "", policy, logger),
		Recompress: steplock.New(StepRecompress, cfg.FastqDataPath, "", policy, logger),
		QC:         steplock.New(StepQC, cfg.ReportsDataPath, constants.QCLockPrefix, policy, logger),
	}
}
