package preflight

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/dag"
	"github.com/nexus-fleet/nexus/internal/logger"
	"github.com/nexus-fleet/nexus/internal/sshconn"
)

// Check names accepted by the skip list.
const (
	CheckConfig = "config"
	CheckHosts  = "hosts"
	CheckSSH    = "ssh"
	CheckSudo   = "sudo"
	CheckTasks  = "tasks"
)

// Result statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

const tcpProbeTimeout = 5 * time.Second

// CheckResult is the outcome of one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Options select what preflight inspects.
type Options struct {
	// Targets narrows the tasks check; empty means all tasks.
	Targets []string
	// Skip names checks to leave out.
	Skip   []string
	Logger *logger.Logger
}

// Runner performs preflight checks over a parsed config and a live pool.
type Runner struct {
	cfg  *config.Config
	pool *sshconn.Pool
	opts Options
	skip map[string]bool
}

// NewRunner builds a preflight runner.
func NewRunner(cfg *config.Config, pool *sshconn.Pool, opts Options) *Runner {
	skip := make(map[string]bool, len(opts.Skip))
	for _, name := range opts.Skip {
		skip[name] = true
	}
	return &Runner{cfg: cfg, pool: pool, opts: opts, skip: skip}
}

// Run executes every non-skipped check in a fixed order and returns all
// results. It never short-circuits; a failed check still lets the
// remaining checks report.
func (r *Runner) Run(ctx context.Context) []CheckResult {
	checks := []struct {
		name string
		fn   func(context.Context) CheckResult
	}{
		{CheckConfig, r.checkConfig},
		{CheckTasks, r.checkTasks},
		{CheckHosts, r.checkHosts},
		{CheckSSH, r.checkSSH},
		{CheckSudo, r.checkSudo},
	}

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		if r.skip[check.name] {
			results = append(results, CheckResult{Name: check.name, Status: StatusSkipped})
			continue
		}
		results = append(results, check.fn(ctx))
	}
	return results
}

// AllPassed reports whether no check failed (skipped counts as passed).
func AllPassed(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == StatusFailed {
			return false
		}
	}
	return true
}

func (r *Runner) checkConfig(context.Context) CheckResult {
	if err := config.ValidateConfig(r.cfg); err != nil {
		return CheckResult{Name: CheckConfig, Status: StatusFailed, Detail: err.Error()}
	}
	return CheckResult{Name: CheckConfig, Status: StatusOK}
}

func (r *Runner) checkTasks(context.Context) CheckResult {
	var unknown []string
	for _, name := range r.opts.Targets {
		if _, ok := r.cfg.Tasks[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return CheckResult{
			Name:   CheckTasks,
			Status: StatusFailed,
			Detail: fmt.Sprintf("unknown tasks: %v", unknown),
		}
	}

	if _, err := dag.Build(r.cfg.Tasks); err != nil {
		return CheckResult{Name: CheckTasks, Status: StatusFailed, Detail: err.Error()}
	}
	return CheckResult{Name: CheckTasks, Status: StatusOK}
}

// checkHosts probes TCP reachability of every host's SSH port.
func (r *Runner) checkHosts(ctx context.Context) CheckResult {
	return r.forEachHost(ctx, CheckHosts, func(ctx context.Context, host config.Host) error {
		dialer := net.Dialer{Timeout: tcpProbeTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", host.Address())
		if err != nil {
			return fmt.Errorf("%s unreachable: %w", host.Name, err)
		}
		return conn.Close()
	})
}

// checkSSH verifies a full session can be established and used.
func (r *Runner) checkSSH(ctx context.Context) CheckResult {
	return r.forEachHost(ctx, CheckSSH, func(ctx context.Context, host config.Host) error {
		return r.pool.Checkout(ctx, host, func(session sshconn.Session) error {
			_, err := session.Exec(ctx, "true", sshconn.ExecOptions{})
			return err
		})
	})
}

// checkSudo verifies passwordless privilege escalation.
func (r *Runner) checkSudo(ctx context.Context) CheckResult {
	return r.forEachHost(ctx, CheckSudo, func(ctx context.Context, host config.Host) error {
		return r.pool.Checkout(ctx, host, func(session sshconn.Session) error {
			_, err := session.ExecSudo(ctx, "true", sshconn.ExecOptions{})
			return err
		})
	})
}

func (r *Runner) forEachHost(ctx context.Context, name string, fn func(context.Context, config.Host) error) CheckResult {
	if len(r.cfg.Hosts) == 0 {
		return CheckResult{Name: name, Status: StatusOK, Detail: "no hosts configured"}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for _, hostName := range r.cfg.HostNames() {
		host := r.cfg.Hosts[hostName]
		g.Go(func() error {
			return fn(gctx, host)
		})
	}

	if err := g.Wait(); err != nil {
		return CheckResult{Name: name, Status: StatusFailed, Detail: err.Error()}
	}
	return CheckResult{Name: name, Status: StatusOK, Detail: fmt.Sprintf("%d hosts", len(r.cfg.Hosts))}
}
