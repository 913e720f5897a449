// Package pipeline runs the step chain of one invocation: run discovery,
// sync, demux, recompress and QC, then the partial synchronization of the
// runs still in progress.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/notify"
	"github.com/GenomiqueENS/aozan/internal/runid"
	"github.com/GenomiqueENS/aozan/internal/runset"
	"github.com/GenomiqueENS/aozan/internal/step"
)

// Step names. They are also the prefixes of the done and deny files.
const (
	StepSync        = "sync"
	StepPartialSync = "partial_sync"
	StepDemux       = "demux"
	StepRecompress  = "recompress"
	StepQC          = "qc"
)

// Discoverer finds the runs of the instrument output roots.
type Discoverer interface {
	CheckCriticalSpace(ctx context.Context)
	DiscoverNewRuns(ctx context.Context, denied runset.Set) error
	DiscoverFinishedRuns(ctx context.Context, denied runset.Set) (runset.Set, error)
	WorkingRuns() runset.Set
	SetWelcome(f func())
}

// Notifier reports failures of the scheduler and its steps.
type Notifier interface {
	step.Reporter
	Report(ctx context.Context, category notify.Category, short, full string)
}

// Steps holds the step functions. A nil function disables its step.
type Steps struct {
	Sync        step.Func
	PartialSync step.Func
	Demux       step.Func
	Recompress  step.Func
	QC          step.Func
}

// StepSummary is the outcome of one step pass.
type StepSummary struct {
	Step   string
	Pass   int
	Result step.Result
}

// Summary is the outcome of an invocation.
type Summary struct {
	Invocation string
	Passes     int
	Steps      []StepSummary

	// PartialSynced lists the runs in progress copied by the partial sync.
	PartialSynced []string

	// Failed is set when a step halted or the state files could not be used.
	Failed bool
	Err    error
}

// Done returns the runs a step completed during the invocation.
func (s Summary) Done(stepName string) []string {
	var done []string
	for _, ss := range s.Steps {
		if ss.Step == stepName {
			done = append(done, ss.Result.Done...)
		}
	}
	return done
}

// Scheduler runs the steps in dependency order.
type Scheduler struct {
	cfg        *config.Config
	discoverer Discoverer
	steps      Steps
	lockers    Lockers
	notifier   Notifier
	observer   step.Observer
	logger     *logging.Logger
}

// New creates a Scheduler. observer may be nil.
func New(cfg *config.Config, discoverer Discoverer, steps Steps, lockers Lockers, notifier Notifier, observer step.Observer, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{
		cfg:        cfg,
		discoverer: discoverer,
		steps:      steps,
		lockers:    lockers,
		notifier:   notifier,
		observer:   observer,
		logger:     logger,
	}
}

// Run performs one invocation. The returned error is also stored in the
// summary; it is set when discovery or the state files fail.
func (s *Scheduler) Run(ctx context.Context, inv *Invocation) (Summary, error) {
	sum := Summary{Invocation: inv.ID}
	logger := inv.Logger

	s.discoverer.SetWelcome(inv.Welcome)
	s.discoverer.CheckCriticalSpace(ctx)

	hiseqDeny, err := runset.Load(s.cfg.VarFile(constants.HiSeqDenyFile))
	if err != nil {
		return s.fail(ctx, sum, notify.CategoryGlobal, "cannot read the list of denied runs", err)
	}
	if err := s.discoverer.DiscoverNewRuns(ctx, hiseqDeny); err != nil {
		return s.fail(ctx, sum, notify.CategoryHiSeq, "error while discovering new runs", err)
	}

	finished, err := s.discoverer.DiscoverFinishedRuns(ctx, hiseqDeny)
	if err != nil {
		return s.fail(ctx, sum, notify.CategoryHiSeq, "error while discovering finished runs", err)
	}

	maxPasses := 1 + max(s.cfg.RescanMaxIterations, 0)
	for sum.Passes < maxPasses && ctx.Err() == nil {
		sum.Passes++
		if err := s.runChain(ctx, inv, &sum, finished.Minus(hiseqDeny)); err != nil {
			sum.Failed, sum.Err = true, err
			return sum, err
		}

		if hiseqDeny, err = runset.Load(s.cfg.VarFile(constants.HiSeqDenyFile)); err != nil {
			return s.fail(ctx, sum, notify.CategoryGlobal, "cannot read the list of denied runs", err)
		}
		rescanned, err := s.discoverer.DiscoverFinishedRuns(ctx, hiseqDeny)
		if err != nil {
			return s.fail(ctx, sum, notify.CategoryHiSeq, "error while discovering finished runs", err)
		}
		fresh := rescanned.Minus(finished)
		if len(fresh) == 0 {
			break
		}
		if sum.Passes < maxPasses {
			logger.Info().Strs("runs", fresh.Sorted()).Msg("New runs finished during the invocation, running the steps again")
		} else {
			logger.Info().Strs("runs", fresh.Sorted()).Msg("New runs finished during the invocation, deferred to the next invocation")
		}
		finished = rescanned
	}

	if err := s.partialSync(ctx, inv, &sum, hiseqDeny); err != nil {
		sum.Failed, sum.Err = true, err
		return sum, err
	}
	return sum, nil
}

// runChain runs one pass of sync, demux, recompress and QC. Each step reads
// its upstream done set after the previous step has run.
func (s *Scheduler) runChain(ctx context.Context, inv *Invocation, sum *Summary, finished runset.Set) error {
	if err := s.runStep(ctx, inv, sum, StepSync, s.cfg.Steps.Sync, s.steps.Sync, s.lockers.Sync, notify.CategorySync,
		func() (runset.Set, error) { return finished, nil }); err != nil {
		return err
	}

	demuxUpstream := func() (runset.Set, error) { return s.loadDone(StepSync) }
	if s.cfg.Demux.UseHiSeqOutput {
		demuxUpstream = func() (runset.Set, error) { return finished, nil }
	}
	if err := s.runStep(ctx, inv, sum, StepDemux, s.cfg.Steps.Demux, s.steps.Demux, s.lockers.Demux, notify.CategoryDemux,
		demuxUpstream); err != nil {
		return err
	}

	if err := s.runStep(ctx, inv, sum, StepRecompress, s.cfg.Steps.Recompress, s.steps.Recompress, s.lockers.Recompress, notify.CategoryRecompress,
		func() (runset.Set, error) { return s.loadDone(StepDemux) }); err != nil {
		return err
	}

	qcUpstream := StepRecompress
	if !s.cfg.Steps.Recompress {
		qcUpstream = StepDemux
	}
	return s.runStep(ctx, inv, sum, StepQC, s.cfg.Steps.QC, s.steps.QC, s.lockers.QC, notify.CategoryQC,
		func() (runset.Set, error) { return s.loadDone(qcUpstream) })
}

func (s *Scheduler) runStep(ctx context.Context, inv *Invocation, sum *Summary, name string, enabled bool, f step.Func,
	lock step.Locker, category notify.Category, upstream func() (runset.Set, error)) error {
	if !enabled || f == nil || ctx.Err() != nil {
		return nil
	}

	candidates, err := upstream()
	if err != nil {
		_, err = s.fail(ctx, Summary{}, category, fmt.Sprintf("cannot read the input runs of step %s", name), err)
		return err
	}

	r := &step.Runner{
		Name:     name,
		Category: category,
		Func:     f,
		Lock:     lock,
		Done:     runset.Open(s.cfg.VarFile(name + constants.DoneSuffix)),
		Deny:     runset.Open(s.cfg.VarFile(name + constants.DenySuffix)),
		Priority: runset.Open(s.cfg.VarFile(constants.PriorityFile)),
		Reporter: s.notifier,
		Logger:   inv.Logger,
		Observer: s.observer,
		BeforeRun: func(stepName, runID string) {
			inv.Welcome()
			inv.Logger.Info().Str("step", stepName).Str("run", runID).Msg("Starting step")
		},
	}
	res, err := r.Run(ctx, candidates)
	sum.Steps = append(sum.Steps, StepSummary{Step: name, Pass: sum.Passes, Result: res})
	if err != nil {
		return err
	}
	if res.Halted() {
		sum.Failed = true
	}
	return nil
}

// partialSync copies the settled files of the runs in progress. It is not
// recorded in any done set.
func (s *Scheduler) partialSync(ctx context.Context, inv *Invocation, sum *Summary, hiseqDeny runset.Set) error {
	if !s.cfg.Steps.Sync || !s.cfg.Sync.Continuous || s.steps.PartialSync == nil || ctx.Err() != nil {
		return nil
	}

	syncDone, err := s.loadDone(StepSync)
	if err != nil {
		_, err = s.fail(ctx, Summary{}, notify.CategorySync, "cannot read the state of step sync", err)
		return err
	}
	priority, err := runset.Load(s.cfg.VarFile(constants.PriorityFile))
	if err != nil {
		_, err = s.fail(ctx, Summary{}, notify.CategorySync, "cannot read the priority list", err)
		return err
	}

	for _, id := range runid.SortByPriority(s.discoverer.WorkingRuns().Minus(syncDone, hiseqDeny), priority) {
		if ctx.Err() != nil {
			break
		}
		if !s.lockers.Sync.Acquire(id) {
			inv.Logger.Info().Str("step", StepPartialSync).Str("run", id).Msg("Run is locked, skipped")
			s.observe(step.OutcomeLocked, 0, 0)
			continue
		}
		inv.Welcome()
		inv.Logger.Info().Str("step", StepPartialSync).Str("run", id).Msg("Starting step")

		start := time.Now()
		se := step.AsError(s.steps.PartialSync(ctx, id))
		s.lockers.Sync.Release(id)
		if se == nil {
			sum.PartialSynced = append(sum.PartialSynced, id)
			s.observe(step.OutcomeSuccess, 0, time.Since(start))
			continue
		}

		se.Step, se.RunID = StepPartialSync, id
		s.observe(step.OutcomeFailure, se.Kind, time.Since(start))
		full := se.Short
		if se.Err != nil {
			full = se.Err.Error()
		}
		s.notifier.ReportWithAttachment(ctx, notify.CategorySync, se.Short, full, se.Attachment)
		sum.Failed = true
		break
	}
	return nil
}

func (s *Scheduler) loadDone(stepName string) (runset.Set, error) {
	return runset.Load(s.cfg.VarFile(stepName + constants.DoneSuffix))
}

func (s *Scheduler) observe(outcome step.Outcome, kind step.Kind, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.Observe(StepPartialSync, outcome, kind, elapsed)
	}
}

// fail reports an infrastructure error and marks the summary as failed.
func (s *Scheduler) fail(ctx context.Context, sum Summary, category notify.Category, short string, err error) (Summary, error) {
	s.logger.Error().Err(err).Msg(short)
	s.notifier.Report(ctx, category, short, err.Error())
	sum.Failed, sum.Err = true, err
	return sum, err
}
