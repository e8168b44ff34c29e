package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/dag"
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/handler"
	"github.com/nexus-fleet/nexus/internal/logger"
	"github.com/nexus-fleet/nexus/internal/resource"
	"github.com/nexus-fleet/nexus/internal/secrets"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/internal/task"
	"github.com/nexus-fleet/nexus/internal/telemetry"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// State tracks the run's lifecycle.
type State string

const (
	StateInit      State = "init"
	StateValidated State = "validated"
	StatePlanned   State = "planned"
	StateRunning   State = "running"
	StateAborting  State = "aborting"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

const (
	defaultParallelLimit  = 10
	defaultHandlerTimeout = 5 * time.Minute
)

// Options tune a single pipeline run.
type Options struct {
	// ParallelLimit bounds concurrently running tasks within a phase.
	ParallelLimit int
	// ContinueOnError keeps later phases running after a task failure.
	ContinueOnError bool
	// CheckMode reports what would change without applying anything.
	CheckMode bool
	// HandlerTimeout bounds each handler's synthetic task.
	HandlerTimeout time.Duration
	// Secrets feeds template rendering; nil is fine.
	Secrets secrets.Store
	Events  telemetry.Emitter
	Logger  *logger.Logger
}

// Result is the full outcome of one pipeline run.
type Result struct {
	Status         string             `json:"status"`
	Duration       telemetry.Duration `json:"duration_ms"`
	TasksRun       int                `json:"tasks_run"`
	TasksSucceeded int                `json:"tasks_succeeded"`
	TasksFailed    int                `json:"tasks_failed"`
	TaskResults    []task.TaskResult  `json:"task_results"`
	HandlerResults []task.TaskResult  `json:"handler_results,omitempty"`
	AbortedAt      string             `json:"aborted_at,omitempty"`
}

// Engine coordinates one or more runs over a fixed config. The engine
// itself is the single-threaded coordinator; task runners are the
// concurrent workers underneath it.
type Engine struct {
	cfg      *config.Config
	pool     *sshconn.Pool
	selector resource.Selector
	gatherer *facts.Gatherer
	opts     Options

	mu    sync.Mutex
	state State
}

// New wires an engine over an existing pool and provider selector.
func New(cfg *config.Config, pool *sshconn.Pool, selector resource.Selector, gatherer *facts.Gatherer, opts Options) *Engine {
	if opts.ParallelLimit <= 0 {
		opts.ParallelLimit = defaultParallelLimit
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	return &Engine{
		cfg:      cfg,
		pool:     pool,
		selector: selector,
		gatherer: gatherer,
		opts:     opts,
		state:    StateInit,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run executes the targeted tasks and their transitive dependencies.
// Validation failures return an error and the pipeline never starts;
// runtime failures surface inside the Result.
func (e *Engine) Run(ctx context.Context, targets []string) (*Result, error) {
	start := time.Now()

	phases, err := e.plan(targets)
	if err != nil {
		return nil, err
	}
	e.setState(StatePlanned)

	queue := handler.NewQueue()
	runner := &task.Runner{
		Config:          e.cfg,
		Pool:            e.pool,
		Selector:        e.selector,
		Gatherer:        e.gatherer,
		Notifier:        queue,
		Events:          e.opts.Events,
		Logger:          e.opts.Logger,
		Secrets:         e.opts.Secrets,
		CheckMode:       e.opts.CheckMode,
		ContinueOnError: e.opts.ContinueOnError,
	}

	e.opts.Events.Emit(telemetry.PipelineStart, 0, map[string]any{"targets": targets})
	e.setState(StateRunning)

	result := &Result{}
	for _, phase := range phases {
		phaseResults := e.runPhase(ctx, runner, phase)

		for _, tr := range phaseResults {
			result.TasksRun++
			if tr.Status == task.StatusOK {
				result.TasksSucceeded++
			} else {
				result.TasksFailed++
			}
			result.TaskResults = append(result.TaskResults, tr)
		}

		if !e.opts.ContinueOnError {
			if failed := firstFailedByName(phaseResults); failed != "" {
				result.AbortedAt = failed
				e.setState(StateAborting)
				break
			}
		}
	}

	// Queued handlers run even after an abort.
	result.HandlerResults = e.runHandlers(ctx, runner, queue)

	handlerFailures := 0
	for _, hr := range result.HandlerResults {
		if hr.Status != task.StatusOK {
			handlerFailures++
		}
	}

	result.Status = task.StatusError
	if result.TasksFailed == 0 && handlerFailures == 0 && result.AbortedAt == "" {
		result.Status = task.StatusOK
	}
	result.Duration = telemetry.Since(start)

	if ctx.Err() != nil {
		e.setState(StateCancelled)
	} else {
		e.setState(StateCompleted)
	}
	e.opts.Events.Emit(telemetry.PipelineStop, time.Duration(result.Duration), map[string]any{"status": result.Status})

	return result, nil
}

// plan validates the targets, builds the DAG, and derives the phases of
// the induced subgraph.
func (e *Engine) plan(targets []string) ([][]string, error) {
	var unknown []string
	for _, name := range targets {
		if _, ok := e.cfg.Tasks[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, nexuserrors.NewUnknownTasksError(unknown)
	}

	graph, err := dag.Build(e.cfg.Tasks)
	if err != nil {
		return nil, err
	}
	e.setState(StateValidated)

	if len(targets) == 0 {
		return graph.Phases, nil
	}

	sub, err := graph.SubgraphFor(targets)
	if err != nil {
		return nil, err
	}
	return sub.Phases, nil
}

// runPhase launches the phase's tasks in ascending name order, bounded
// by the parallel limit, and waits for all of them.
func (e *Engine) runPhase(ctx context.Context, runner *task.Runner, names []string) []task.TaskResult {
	results := make([]task.TaskResult, len(names))
	sem := semaphore.NewWeighted(int64(e.opts.ParallelLimit))

	var wg sync.WaitGroup
	for i, name := range names {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancellation between launches: the remaining tasks never start.
			for j := i; j < len(names); j++ {
				results[j] = task.TaskResult{
					Task:   names[j],
					Status: task.StatusError,
					HostResults: []task.HostResult{{
						Host:   "",
						Status: task.StatusError,
						Commands: []task.CommandOutcome{{
							Cmd:    "run " + names[j],
							Status: task.StepError,
							Output: nexuserrors.NewCancelledError("task " + names[j]).Error(),
						}},
					}},
				}
			}
			break
		}

		wg.Add(1)
		go func(i int, t config.Task) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = runner.Run(ctx, t)
		}(i, e.cfg.Tasks[name])
	}
	wg.Wait()

	return results
}

// runHandlers flushes the queue and runs each handler as a synthetic
// parallel task across every host in the config, in ascending name
// order.
func (e *Engine) runHandlers(ctx context.Context, runner *task.Runner, queue *handler.Queue) []task.TaskResult {
	names := queue.Flush()
	if len(names) == 0 {
		return nil
	}

	hosts := make([]config.Host, 0, len(e.cfg.Hosts))
	for _, name := range e.cfg.HostNames() {
		hosts = append(hosts, e.cfg.Hosts[name])
	}

	results := make([]task.TaskResult, 0, len(names))
	for _, name := range names {
		h, ok := e.cfg.Handlers[name]
		if !ok {
			results = append(results, task.TaskResult{Task: "handler:" + name, Status: task.StatusError})
			continue
		}

		synthetic := config.Task{
			Name:     "handler:" + name,
			Strategy: config.StrategyParallel,
			Timeout:  int(e.opts.HandlerTimeout / time.Millisecond),
			Steps:    handlerSteps(h),
		}
		results = append(results, runner.RunOnHosts(ctx, synthetic, hosts))
	}
	return results
}

func handlerSteps(h config.Handler) []config.Step {
	steps := make([]config.Step, len(h.Commands))
	for i := range h.Commands {
		cmd := h.Commands[i]
		steps[i] = config.Step{Type: config.StepCommand, Command: &cmd}
	}
	return steps
}

// firstFailedByName picks the abort marker: the name-ascending first
// failed task of the phase.
func firstFailedByName(results []task.TaskResult) string {
	var failed []string
	for _, tr := range results {
		if tr.Status != task.StatusOK {
			failed = append(failed, tr.Task)
		}
	}
	if len(failed) == 0 {
		return ""
	}
	sort.Strings(failed)
	return failed[0]
}
