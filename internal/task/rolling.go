package task

import (
	"context"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/sshconn"
)

// runRolling applies the task batch by batch. Regular steps run in
// parallel within a batch; health checks gate the next batch. Batches
// never attempted are omitted from the result, not marked failed.
func (r *Runner) runRolling(ctx context.Context, t config.Task, hosts []config.Host) ([]HostResult, []string) {
	regular, checks := splitHealthChecks(t.Steps)

	batchSize := t.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	workTask := t
	workTask.Steps = regular

	var results []HostResult
	var notified []string

	for offset := 0; offset < len(hosts); offset += batchSize {
		end := min(offset+batchSize, len(hosts))
		batch := hosts[offset:end]

		batchResults, n := r.runParallel(ctx, workTask, batch)
		notified = append(notified, n...)

		for i := range batchResults {
			hr := &batchResults[i]
			if hr.Status != StatusOK {
				continue
			}
			for _, check := range checks {
				outcome := r.runHealthCheck(ctx, batch[i], check.WaitFor)
				hr.Commands = append(hr.Commands, outcome)
			}
			hr.Status = hostStatus(hr.Commands)
		}

		results = append(results, batchResults...)

		if !r.ContinueOnError && anyHostFailed(batchResults) {
			break
		}
	}

	return results, notified
}

// runHealthCheck runs one wait_for step against one host. Command checks
// need a session from the pool; http and tcp poll from the controller.
func (r *Runner) runHealthCheck(ctx context.Context, host config.Host, w *config.WaitForStep) CommandOutcome {
	if w.Kind == config.WaitForCommand {
		var outcome CommandOutcome
		err := r.Pool.Checkout(ctx, host, func(session sshconn.Session) error {
			outcome = r.runWaitFor(ctx, host.Name, session, w)
			return nil
		})
		if err != nil {
			return CommandOutcome{
				Cmd:      waitForLabel(w),
				Status:   StepError,
				Output:   err.Error(),
				Attempts: 1,
			}
		}
		return outcome
	}

	// HTTP and TCP checks default to the host's reachable address.
	scoped := *w
	if scoped.Host == "" {
		scoped.Host = host.Hostname
	}
	return r.runWaitFor(ctx, host.Name, nil, &scoped)
}

// splitHealthChecks partitions a command list into regular steps and
// wait_for health checks, preserving order within each.
func splitHealthChecks(steps []config.Step) (regular, checks []config.Step) {
	for _, step := range steps {
		if step.Type == config.StepWaitFor {
			checks = append(checks, step)
		} else {
			regular = append(regular, step)
		}
	}
	return regular, checks
}

func anyHostFailed(results []HostResult) bool {
	for _, hr := range results {
		if hr.Status != StatusOK {
			return true
		}
	}
	return false
}
