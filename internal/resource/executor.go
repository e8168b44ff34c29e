package resource

import (
	"context"
	"time"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/internal/telemetry"
)

// Execute runs exactly one resource through the check/diff/apply loop and
// always produces a Result; provider errors become failed results.
func Execute(ctx context.Context, step *config.Step, session sshconn.Session, ec Context, selector Selector, notifier Notifier) Result {
	if !whenOf(step).Eval(ec.Facts) {
		return Result{
			Description: describeFallback(step),
			Status:      StatusSkipped,
			Message:     "condition not met",
		}
	}

	start := time.Now()

	provider, err := selector.ProviderFor(step.Type, ec.Facts)
	if err != nil {
		return Result{
			Description: describeFallback(step),
			Status:      StatusFailed,
			Message:     err.Error(),
			Duration:    telemetry.Since(start),
		}
	}

	description := provider.Describe(step)

	current, err := provider.Check(ctx, step, session, ec)
	if err != nil {
		return Result{
			Description: description,
			Status:      StatusFailed,
			Message:     "check failed: " + err.Error(),
			Duration:    telemetry.Since(start),
		}
	}

	pending, err := provider.Diff(step, current)
	if err != nil {
		return Result{
			Description: description,
			Status:      StatusFailed,
			Message:     "diff failed: " + err.Error(),
			Duration:    telemetry.Since(start),
		}
	}

	if !pending.Changed {
		return Result{
			Description: description,
			Status:      StatusOK,
			Diff:        nil,
			Message:     pending.Summary(),
			Duration:    telemetry.Since(start),
		}
	}

	if ec.CheckMode {
		// Surface what would fire without actually enqueueing.
		return Result{
			Description: description,
			Status:      StatusChanged,
			Diff:        pending,
			Message:     "would change: " + pending.Summary(),
			Duration:    telemetry.Since(start),
			Notify:      step.Notify(),
		}
	}

	applied, err := provider.Apply(ctx, step, session, ec)
	if err != nil {
		return Result{
			Description: description,
			Status:      StatusFailed,
			Diff:        nil,
			Message:     "apply failed: " + err.Error(),
			Duration:    telemetry.Since(start),
		}
	}

	result := *applied
	result.Description = description
	// Providers may downgrade an apply to ok (nothing to do after all);
	// only a changed result carries the pending diff.
	if result.Status == StatusChanged && result.Diff == nil {
		result.Diff = pending
	}
	result.Duration = telemetry.Since(start)

	if result.Status == StatusChanged {
		if notify := step.Notify(); notify != "" {
			result.Notify = notify
			if notifier != nil {
				notifier.Notify(notify)
			}
		}
	}

	return result
}

// ExecuteAll runs resources sequentially. On a failed result it stops
// unless continueOnError is set; the results gathered so far are always
// returned.
func ExecuteAll(ctx context.Context, steps []*config.Step, session sshconn.Session, ec Context, selector Selector, notifier Notifier, continueOnError bool) []Result {
	results := make([]Result, 0, len(steps))
	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}
		result := Execute(ctx, step, session, ec, selector, notifier)
		results = append(results, result)
		if result.Status == StatusFailed && !continueOnError {
			break
		}
	}
	return results
}

func whenOf(step *config.Step) *config.When {
	switch step.Type {
	case config.StepPackage:
		return step.Package.When
	case config.StepService:
		return step.Service.When
	case config.StepFile:
		return step.File.When
	case config.StepDirectory:
		return step.Directory.When
	case config.StepUser:
		return step.User.When
	case config.StepGroup:
		return step.Group.When
	case config.StepCommandResource:
		return step.CommandRes.When
	}
	return nil
}

func describeFallback(step *config.Step) string {
	switch step.Type {
	case config.StepPackage:
		return "package " + step.Package.Name
	case config.StepService:
		return "service " + step.Service.Name
	case config.StepFile:
		return "file " + step.File.Path
	case config.StepDirectory:
		return "directory " + step.Directory.Path
	case config.StepUser:
		return "user " + step.User.Name
	case config.StepGroup:
		return "group " + step.Group.Name
	case config.StepCommandResource:
		return "command " + step.CommandRes.Cmd
	}
	return step.Type
}
