package task

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/logger"
	"github.com/nexus-fleet/nexus/internal/resource"
	"github.com/nexus-fleet/nexus/internal/retry"
	"github.com/nexus-fleet/nexus/internal/secrets"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/internal/telemetry"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

const (
	localHostName       = "local"
	defaultHostParallel = 10
)

// Runner executes one task against its resolved host set. It is safe to
// share one Runner across concurrently running tasks; all mutable state
// lives in the run itself.
type Runner struct {
	Config          *config.Config
	Pool            *sshconn.Pool
	Selector        resource.Selector
	Gatherer        *facts.Gatherer
	Notifier        resource.Notifier
	Events          telemetry.Emitter
	Logger          *logger.Logger
	// Secrets backs template rendering; nil means no secrets available.
	Secrets         secrets.Store
	CheckMode       bool
	ContinueOnError bool
	// HostParallel caps concurrent hosts under the parallel strategy when
	// the task does not set its own limit.
	HostParallel int
}

// Run executes the task and always returns a TaskResult; host failures
// roll up into the task status instead of erroring out.
func (r *Runner) Run(ctx context.Context, t config.Task) TaskResult {
	hosts, ok := r.Config.ResolveTarget(t.On)
	if !ok {
		r.Events.Emit(telemetry.TaskException, 0, map[string]any{"task": t.Name, "reason": "unknown target " + t.On})
		return TaskResult{Task: t.Name, Status: StatusError}
	}
	return r.RunOnHosts(ctx, t, hosts)
}

// RunOnHosts executes the task against an explicit host set, bypassing
// target resolution. An empty set means the local machine.
func (r *Runner) RunOnHosts(ctx context.Context, t config.Task, hosts []config.Host) TaskResult {
	start := time.Now()
	r.Events.Emit(telemetry.TaskStart, 0, map[string]any{"task": t.Name})

	var hostResults []HostResult
	var notified []string

	switch {
	case len(hosts) == 0:
		hr, n := r.runLocal(ctx, t)
		hostResults = []HostResult{hr}
		notified = n
	case t.Strategy == config.StrategySerial:
		hostResults, notified = r.runSerial(ctx, t, hosts)
	case t.Strategy == config.StrategyRolling && len(hosts) > 1:
		hostResults, notified = r.runRolling(ctx, t, hosts)
	default:
		hostResults, notified = r.runParallel(ctx, t, hosts)
	}

	result := TaskResult{
		Task:              t.Name,
		Status:            taskStatus(hostResults),
		Duration:          telemetry.Since(start),
		HostResults:       hostResults,
		TriggeredHandlers: uniqueSorted(notified),
	}
	r.Events.Emit(telemetry.TaskStop, time.Duration(result.Duration), map[string]any{"task": t.Name, "status": result.Status})
	return result
}

func (r *Runner) runSerial(ctx context.Context, t config.Task, hosts []config.Host) ([]HostResult, []string) {
	results := make([]HostResult, 0, len(hosts))
	var notified []string
	for _, host := range hosts {
		hr, n := r.runRemote(ctx, t, host)
		results = append(results, hr)
		notified = append(notified, n...)
	}
	return results, notified
}

func (r *Runner) runParallel(ctx context.Context, t config.Task, hosts []config.Host) ([]HostResult, []string) {
	limit := t.Parallel
	if limit <= 0 {
		limit = r.HostParallel
	}
	if limit <= 0 {
		limit = defaultHostParallel
	}

	results := make([]HostResult, len(hosts))
	perHost := make([][]string, len(hosts))

	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			results[i], perHost[i] = r.runRemote(ctx, t, host)
			return nil
		})
	}
	_ = g.Wait()

	var notified []string
	for _, n := range perHost {
		notified = append(notified, n...)
	}
	return results, notified
}

func (r *Runner) runLocal(ctx context.Context, t config.Task) (HostResult, []string) {
	runCtx, cancel := r.taskContext(ctx, t)
	defer cancel()

	session := sshconn.NewLocalSession()
	outcomes, notified, _ := r.runSteps(runCtx, t, localHostName, session, r.Gatherer.Local())
	return HostResult{Host: localHostName, Status: hostStatus(outcomes), Commands: outcomes}, notified
}

func (r *Runner) runRemote(ctx context.Context, t config.Task, host config.Host) (HostResult, []string) {
	runCtx, cancel := r.taskContext(ctx, t)
	defer cancel()

	var outcomes []CommandOutcome
	var notified []string

	err := r.Pool.Checkout(runCtx, host, func(session sshconn.Session) error {
		hostFacts, err := r.Gatherer.Remote(runCtx, host.Name, session)
		if err != nil {
			return err
		}
		var broken error
		outcomes, notified, broken = r.runSteps(runCtx, t, host.Name, session, hostFacts)
		return broken
	})
	if err != nil && len(outcomes) == 0 {
		// Checkout or fact gathering failed before any step ran.
		outcomes = append(outcomes, CommandOutcome{
			Cmd:      "connect " + host.Name,
			Status:   StepError,
			Output:   err.Error(),
			Attempts: 1,
		})
	}

	return HostResult{Host: host.Name, Status: hostStatus(outcomes), Commands: outcomes}, notified
}

// runSteps executes the task's command list strictly in order. The third
// return value is non-nil when the session hit a transport-level failure
// and must be evicted from the pool.
func (r *Runner) runSteps(ctx context.Context, t config.Task, hostName string, session sshconn.Session, hostFacts facts.Facts) ([]CommandOutcome, []string, error) {
	ec := resource.Context{Facts: hostFacts, HostID: hostName, CheckMode: r.CheckMode}

	var outcomes []CommandOutcome
	var notified []string

	for i := range t.Steps {
		step := &t.Steps[i]

		if ctx.Err() != nil {
			outcomes = append(outcomes, CommandOutcome{
				Cmd:    stepLabel(step),
				Status: StepError,
				Output: abortReason(ctx, t.Name),
			})
			break
		}

		var outcome CommandOutcome
		var stepErr error

		switch {
		case step.Type == config.StepCommand:
			outcome, stepErr = r.runCommand(ctx, hostName, session, step.Command)
		case step.IsResource():
			res := resource.Execute(ctx, step, session, ec, r.Selector, r.Notifier)
			outcome = outcomeFromResource(res)
			if res.Status == resource.StatusChanged && res.Notify != "" {
				notified = append(notified, res.Notify)
			}
		case step.Type == config.StepUpload:
			outcome, stepErr = r.runUpload(ctx, session, step.Upload)
		case step.Type == config.StepDownload:
			outcome, stepErr = r.runDownload(ctx, session, step.Download)
		case step.Type == config.StepTemplate:
			outcome, stepErr = r.runTemplate(ctx, session, step.Template, hostFacts)
		case step.Type == config.StepWaitFor:
			outcome = r.runWaitFor(ctx, hostName, session, step.WaitFor)
		}

		outcomes = append(outcomes, outcome)

		if stepErr != nil && errors.Is(stepErr, sshconn.ErrSessionBroken) {
			return outcomes, notified, stepErr
		}
		if outcome.Status == StepError && !r.ContinueOnError {
			break
		}
	}

	return outcomes, notified, nil
}

func (r *Runner) runCommand(ctx context.Context, hostName string, session sshconn.Session, c *config.CommandStep) (CommandOutcome, error) {
	start := time.Now()
	opts := sshconn.ExecOptions{
		Timeout: msDuration(c.Timeout),
		Cwd:     c.Cwd,
		Env:     c.Env,
		User:    c.User,
	}

	var result sshconn.ExecResult
	attempts, err := retry.Do(ctx, retry.Options{Retries: c.Retries, Delay: msDuration(c.RetryDelay)}, func(ctx context.Context, attempt int) error {
		r.Events.Emit(telemetry.CommandStart, 0, map[string]any{"host": hostName, "cmd": c.Cmd, "attempt": attempt})
		res, execErr := r.exec(ctx, session, c, opts)
		result = res
		r.Events.Emit(telemetry.CommandStop, time.Since(start), map[string]any{"host": hostName, "cmd": c.Cmd, "exit_code": res.ExitCode})
		return execErr
	})

	outcome := CommandOutcome{
		Cmd:      c.Cmd,
		Output:   result.Output,
		ExitCode: result.ExitCode,
		Attempts: attempts,
		Duration: telemetry.Since(start),
	}
	if err == nil {
		outcome.Status = StepOK
		return outcome, nil
	}

	outcome.Status = StepError
	if outcome.Output == "" {
		outcome.Output = err.Error()
	}
	var cmdErr *nexuserrors.CommandError
	if errors.As(err, &cmdErr) {
		outcome.ExitCode = cmdErr.ExitCode
	}
	return outcome, err
}

func (r *Runner) exec(ctx context.Context, session sshconn.Session, c *config.CommandStep, opts sshconn.ExecOptions) (sshconn.ExecResult, error) {
	if c.Sudo {
		return session.ExecSudo(ctx, c.Cmd, opts)
	}
	return session.Exec(ctx, c.Cmd, opts)
}

func (r *Runner) taskContext(ctx context.Context, t config.Task) (context.Context, context.CancelFunc) {
	if t.Timeout > 0 {
		return context.WithTimeout(ctx, msDuration(t.Timeout))
	}
	return context.WithCancel(ctx)
}

func outcomeFromResource(res resource.Result) CommandOutcome {
	status := res.Status
	if status == resource.StatusFailed {
		status = StepError
	}
	output := res.Message
	if res.Diff != nil && res.Diff.Detail != "" {
		output += "\n" + strings.TrimRight(res.Diff.Detail, "\n")
	}
	return CommandOutcome{
		Cmd:      res.Description,
		Status:   status,
		Output:   output,
		Attempts: 1,
		Duration: res.Duration,
	}
}

func abortReason(ctx context.Context, taskName string) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nexuserrors.NewTimeoutError("task " + taskName).Error()
	}
	return nexuserrors.NewCancelledError("task " + taskName).Error()
}

func stepLabel(step *config.Step) string {
	if step.Type == config.StepCommand {
		return step.Command.Cmd
	}
	return step.Type
}

func msDuration(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func uniqueSorted(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
