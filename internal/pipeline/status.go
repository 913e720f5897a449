package pipeline

import (
	"github.com/GenomiqueENS/aozan/internal/config"
	"github.com/GenomiqueENS/aozan/internal/constants"
	"github.com/GenomiqueENS/aozan/internal/runset"
)

// lockChecker is implemented by the marker based locks.
type lockChecker interface {
	IsLocked(runID string) bool
}

// StepState is the membership of a run for one step.
type StepState struct {
	Done   bool `json:"done" yaml:"done"`
	Denied bool `json:"denied" yaml:"denied"`
	Locked bool `json:"locked" yaml:"locked"`
}

// RunStatus is the state of a run across the steps.
type RunStatus struct {
	RunID    string               `json:"run_id" yaml:"run_id"`
	Priority bool                 `json:"priority" yaml:"priority"`
	Steps    map[string]StepState `json:"steps" yaml:"steps"`
}

// StatusSteps lists the steps reported by Collect, in chain order.
var StatusSteps = []string{"hiseq", StepSync, StepDemux, StepRecompress, StepQC}

// Collect reads the done, deny and priority files of cfg and the lock
// markers of lockers. Every run found in a file is reported, sorted.
func Collect(cfg *config.Config, lockers Lockers) ([]RunStatus, error) {
	done := map[string]runset.Set{}
	deny := map[string]runset.Set{}
	all := runset.NewSet()

	for _, name := range StatusSteps {
		d, err := runset.Load(cfg.VarFile(name + constants.DoneSuffix))
		if err != nil {
			return nil, err
		}
		n, err := runset.Load(cfg.VarFile(name + constants.DenySuffix))
		if err != nil {
			return nil, err
		}
		done[name], deny[name] = d, n
		for id := range d {
			all.Add(id)
		}
		for id := range n {
			all.Add(id)
		}
	}
	priority, err := runset.Load(cfg.VarFile(constants.PriorityFile))
	if err != nil {
		return nil, err
	}

	locks := map[string]lockChecker{}
	for name, l := range map[string]any{
		StepSync:       lockers.Sync,
		StepDemux:      lockers.Demux,
		StepRecompress: lockers.Recompress,
		StepQC:         lockers.QC,
	} {
		if lc, ok := l.(lockChecker); ok {
			locks[name] = lc
		}
	}

	var out []RunStatus
	for _, id := range all.Sorted() {
		rs := RunStatus{RunID: id, Priority: priority.Contains(id), Steps: map[string]StepState{}}
		for _, name := range StatusSteps {
			st := StepState{Done: done[name].Contains(id), Denied: deny[name].Contains(id)}
			if lc, ok := locks[name]; ok {
				st.Locked = lc.IsLocked(id)
			}
			rs.Steps[name] = st
		}
		out = append(out, rs)
	}
	return out, nil
}
