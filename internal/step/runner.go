package step

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/GenomiqueENS/aozan/internal/logging"
	"github.com/GenomiqueENS/aozan/internal/notify"
	"github.com/GenomiqueENS/aozan/internal/runid"
	"github.com/GenomiqueENS/aozan/internal/runset"
)

// Func processes one run. A nil error means the run is done for the step.
type Func func(ctx context.Context, runID string) error

// Locker guards a (step, run) pair.
type Locker interface {
	Acquire(runID string) bool
	Release(runID string)
}

// Reporter receives step failures.
type Reporter interface {
	ReportWithAttachment(ctx context.Context, category notify.Category, short, full, attachment string)
}

// Outcome is the result of one step attempt.
type Outcome string

// Outcomes
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeLocked  Outcome = "locked"
)

// Observer is told about every attempt. It is used for metrics.
type Observer interface {
	Observe(step string, outcome Outcome, kind Kind, elapsed time.Duration)
}

// Runner applies one step to its candidate runs.
type Runner struct {
	Name     string
	Category notify.Category
	Func     Func
	Lock     Locker

	// Done and Deny are the run sets of the step. Priority is shared by all steps.
	Done     *runset.File
	Deny     *runset.File
	Priority *runset.File

	Reporter Reporter
	Logger   *logging.Logger
	Observer Observer

	// BeforeRun is called once a lock is held, before Func runs.
	BeforeRun func(step, runID string)
}

// Result summarizes one pass of a runner.
type Result struct {
	Done   []string
	Locked []string

	// Failed is the run whose failure halted the pass, if any.
	Failed string
	Err    *Error
}

// Halted reports whether the pass stopped before the last candidate.
func (r Result) Halted() bool {
	return r.Failed != ""
}

// Candidates returns upstream minus the done and deny sets of the step,
// priority runs first.
func (r *Runner) Candidates(upstream runset.Set) ([]string, error) {
	done, err := r.Done.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", r.Done.Path(), err)
	}
	deny, err := r.Deny.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", r.Deny.Path(), err)
	}
	priority := runset.NewSet()
	if r.Priority != nil {
		if priority, err = r.Priority.Load(); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", r.Priority.Path(), err)
		}
	}
	return runid.SortByPriority(upstream.Minus(done, deny), priority), nil
}

// Run processes the candidates of upstream in order. The first failure, of
// any kind, halts the pass and the remaining runs wait for the next
// invocation. The returned error is set when the state files of the step
// cannot be read.
func (r *Runner) Run(ctx context.Context, upstream runset.Set) (Result, error) {
	logger := r.logger()

	candidates, err := r.Candidates(upstream)
	if err != nil {
		se := Infra(fmt.Sprintf("cannot read the state of step %s", r.Name), err)
		se.Step = r.Name
		r.report(ctx, se)
		return Result{Err: se}, err
	}

	var res Result
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}

		if !r.Lock.Acquire(id) {
			logger.Info().Str("step", r.Name).Str("run", id).Msg("Run is locked, skipped")
			res.Locked = append(res.Locked, id)
			r.observe(OutcomeLocked, 0, 0)
			continue
		}

		if r.BeforeRun != nil {
			r.BeforeRun(r.Name, id)
		}

		start := time.Now()
		se := r.runOne(ctx, id)
		if se == nil {
			if err := r.Done.Append(id); err != nil {
				se = Infra(fmt.Sprintf("cannot record run %s as done for step %s", id, r.Name), err)
			}
		}
		r.Lock.Release(id)

		if se == nil {
			logger.Info().Str("step", r.Name).Str("run", id).Dur("elapsed", time.Since(start)).Msg("Step done")
			res.Done = append(res.Done, id)
			r.observe(OutcomeSuccess, 0, time.Since(start))
			continue
		}

		se.Step, se.RunID = r.Name, id
		r.observe(OutcomeFailure, se.Kind, time.Since(start))
		r.report(ctx, se)

		res.Failed, res.Err = id, se
		logger.Warn().Str("step", r.Name).Str("run", id).Str("kind", se.Kind.String()).
			Msg("Step halted, remaining runs deferred to the next invocation")
		break
	}
	return res, nil
}

// runOne calls Func, converting a panic into an execution error.
func (r *Runner) runOne(ctx context.Context, id string) (se *Error) {
	defer func() {
		if p := recover(); p != nil {
			se = Execution(fmt.Sprintf("unexpected failure of step %s for run %s", r.Name, id),
				fmt.Errorf("panic: %v\n%s", p, debug.Stack()))
		}
	}()
	return AsError(r.Func(ctx, id))
}

func (r *Runner) report(ctx context.Context, se *Error) {
	if r.Reporter == nil {
		return
	}
	short := se.Short
	if short == "" {
		short = fmt.Sprintf("error while running %s for run %s", se.Step, se.RunID)
	}
	full := short
	if se.Err != nil {
		full = se.Err.Error()
	}
	r.Reporter.ReportWithAttachment(ctx, r.Category, short, full, se.Attachment)
}

func (r *Runner) observe(outcome Outcome, kind Kind, elapsed time.Duration) {
	if r.Observer != nil {
		r.Observer.Observe(r.Name, outcome, kind, elapsed)
	}
}

func (r *Runner) logger() *logging.Logger {
	if r.Logger == nil {
		return logging.NewNopLogger()
	}
	return r.Logger
}
