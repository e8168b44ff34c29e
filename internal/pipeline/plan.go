package pipeline

import (
	"sort"

	"github.com/nexus-fleet/nexus/internal/config"
)

// Plan is the dry-run view of a pipeline: the derived phases with
// per-task metadata, nothing executed.
type Plan struct {
	Phases []PlanPhase `json:"phases"`
}

// PlanPhase is one phase of the plan in execution order.
type PlanPhase struct {
	Index int        `json:"index"`
	Tasks []PlanTask `json:"tasks"`
}

// PlanTask summarizes one task as it would run.
type PlanTask struct {
	Name     string   `json:"name"`
	On       string   `json:"on"`
	Strategy string   `json:"strategy"`
	Deps     []string `json:"deps,omitempty"`
	Steps    int      `json:"steps"`
}

// DryRun validates targets and derives the execution plan without
// touching any host.
func (e *Engine) DryRun(targets []string) (*Plan, error) {
	phases, err := e.plan(targets)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Phases: make([]PlanPhase, 0, len(phases))}
	for i, names := range phases {
		phase := PlanPhase{Index: i, Tasks: make([]PlanTask, 0, len(names))}
		for _, name := range names {
			t := e.cfg.Tasks[name]
			deps := append([]string(nil), t.Deps...)
			sort.Strings(deps)
			on := t.On
			if on == "" {
				on = config.LocalTarget
			}
			phase.Tasks = append(phase.Tasks, PlanTask{
				Name:     name,
				On:       on,
				Strategy: t.Strategy,
				Deps:     deps,
				Steps:    len(t.Steps),
			})
		}
		plan.Phases = append(plan.Phases, phase)
	}
	return plan, nil
}
