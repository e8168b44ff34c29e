package task

import "github.com/nexus-fleet/nexus/internal/telemetry"

// Host and task level statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Step outcome statuses. Resource steps may additionally report changed
// or skipped; commands are ok or error.
const (
	StepOK      = "ok"
	StepChanged = "changed"
	StepError   = "error"
	StepSkipped = "skipped"
)

// CommandOutcome records one step's execution on one host.
type CommandOutcome struct {
	Cmd      string             `json:"cmd"`
	Status   string             `json:"status"`
	Output   string             `json:"output,omitempty"`
	ExitCode int                `json:"exit_code"`
	Attempts int                `json:"attempts"`
	Duration telemetry.Duration `json:"duration_ms"`
}

// HostResult aggregates one task's outcomes on one host. Status is ok
// iff every step status is ok, changed or skipped.
type HostResult struct {
	Host     string           `json:"host"`
	Status   string           `json:"status"`
	Commands []CommandOutcome `json:"commands"`
}

// TaskResult aggregates a task across its host set. Status is ok iff
// every host result is ok.
type TaskResult struct {
	Task              string             `json:"task"`
	Status            string             `json:"status"`
	Duration          telemetry.Duration `json:"duration_ms"`
	HostResults       []HostResult       `json:"host_results"`
	TriggeredHandlers []string           `json:"triggered_handlers,omitempty"`
}

func hostStatus(outcomes []CommandOutcome) string {
	for _, outcome := range outcomes {
		if outcome.Status == StepError {
			return StatusError
		}
	}
	return StatusOK
}

func taskStatus(hosts []HostResult) string {
	for _, host := range hosts {
		if host.Status != StatusOK {
			return StatusError
		}
	}
	return StatusOK
}
