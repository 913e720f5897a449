package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/version"
)

// Invocation is the state of one scheduler run.
type Invocation struct {
	ID      string
	Started time.Time
	Logger  *logging.Logger

	cfg           *config.Config
	once          sync.Once
	somethingToDo bool
}

// NewInvocation creates an invocation with a fresh id. Its logger carries
// the id in an "invocation" field.
func NewInvocation(cfg *config.Config, logger *logging.Logger) *Invocation {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	id := uuid.New().String()
	return &Invocation{
		ID:      id,
		Started: time.Now(),
		Logger:  logger.WithField("invocation", id),
		cfg:     cfg,
	}
}

// Welcome logs the start banner the first time the invocation has work to do.
func (inv *Invocation) Welcome() {
	inv.once.Do(func() {
		inv.somethingToDo = true
		inv.Logger.Info().Msg("Starting " + version.WelcomeMessage())
		inv.Logger.Info().Str("steps", strings.Join(EnabledSteps(inv.cfg), ", ")).Msg("Steps enabled")
	})
}

// SomethingToDo reports whether Welcome was called.
func (inv *Invocation) SomethingToDo() bool {
	return inv.somethingToDo
}

// EnabledSteps lists the configuration keys of the enabled steps.
func EnabledSteps(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	var steps []string
	for _, s := range []struct {
		key string
		on  bool
	}{
		{config.KeyFirstBaseReportStep, cfg.Steps.FirstBaseReport},
		{config.KeyHiSeqStep, cfg.Steps.HiSeq},
		{config.KeySyncStep, cfg.Steps.Sync},
		{config.KeyDemuxStep, cfg.Steps.Demux},
		{config.KeyRecompressStep, cfg.Steps.Recompress},
		{config.KeyQCStep, cfg.Steps.QC},
	} {
		if s.on {
			steps = append(steps, s.key)
		}
	}
	return steps
}
