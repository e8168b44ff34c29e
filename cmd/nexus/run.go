package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-fleet/nexus/internal/pipeline"
	"github.com/nexus-fleet/nexus/internal/secrets"
	"github.com/nexus-fleet/nexus/internal/task"
)

// secretEnvPrefix marks environment variables exposed to templates.
const secretEnvPrefix = "NEXUS_SECRET_"

const durationPrecision = time.Millisecond

type runOptions struct {
	appOptions
	parallel        int
	continueOnError bool
	checkMode       bool
	planOnly        bool
	secretsFile     string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run [tasks...]",
		Short: "Run tasks and their dependencies across the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.verbose = root.verbose
			if err := validateConfigPath(opts.configPath); err != nil {
				return err
			}
			return runRun(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck
	cmd.Flags().IntVar(&opts.parallel, "parallel", 0, "Maximum tasks running concurrently within a phase")
	cmd.Flags().BoolVar(&opts.continueOnError, "continue-on-error", false, "Keep running after a task fails")
	cmd.Flags().BoolVar(&opts.checkMode, "check", false, "Report what would change without applying anything")
	cmd.Flags().BoolVar(&opts.planOnly, "plan", false, "Print the execution plan and exit")
	cmd.Flags().StringVar(&opts.secretsFile, "secrets", "", "Path to a YAML file of template secrets")
	cmd.Flags().StringVar(&opts.sshConfig, "ssh-config", "", "Path to an OpenSSH-style config with host overrides")
	cmd.Flags().StringVarP(&opts.identityFile, "identity", "i", "", "Path to an SSH private key")
	cmd.Flags().StringVar(&opts.knownHosts, "known-hosts", "", "Path to a known_hosts file")
	cmd.Flags().BoolVar(&opts.strictHostKey, "strict-host-key", false, "Verify host keys against known_hosts")

	return cmd
}

func runRun(cmd *cobra.Command, opts runOptions, targets []string) error {
	app, err := buildApp(opts.appOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	continueOnError := opts.continueOnError || app.cfg.Settings.ContinueOnError
	parallel := opts.parallel
	if parallel <= 0 {
		parallel = app.cfg.Settings.Parallel
	}

	store := secrets.FromEnv(secretEnvPrefix)
	if opts.secretsFile != "" {
		fromFile, err := secrets.LoadFile(opts.secretsFile)
		if err != nil {
			return err
		}
		for name, value := range fromFile {
			store[name] = value
		}
	}

	engine := pipeline.New(app.cfg, app.pool, app.registry, app.gatherer, pipeline.Options{
		ParallelLimit:   parallel,
		ContinueOnError: continueOnError,
		CheckMode:       opts.checkMode,
		Secrets:         store,
		Events:          app.events,
		Logger:          app.log,
	})

	if opts.planOnly {
		plan, err := engine.DryRun(targets)
		if err != nil {
			return err
		}
		printPlan(cmd, plan)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := engine.Run(ctx, targets)
	if err != nil {
		return err
	}

	printResult(cmd, result)
	if result.Status != task.StatusOK {
		return fmt.Errorf("pipeline failed: %d of %d tasks failed", result.TasksFailed, result.TasksRun)
	}
	return nil
}

func printPlan(cmd *cobra.Command, plan *pipeline.Plan) {
	out := cmd.OutOrStdout()
	for _, phase := range plan.Phases {
		fmt.Fprintf(out, "phase %d:\n", phase.Index)
		for _, t := range phase.Tasks {
			line := fmt.Sprintf("  %s  on=%s strategy=%s steps=%d", t.Name, t.On, t.Strategy, t.Steps)
			if len(t.Deps) > 0 {
				line += " deps=" + strings.Join(t.Deps, ",")
			}
			fmt.Fprintln(out, line)
		}
	}
}

func printResult(cmd *cobra.Command, result *pipeline.Result) {
	out := cmd.OutOrStdout()

	for _, tr := range result.TaskResults {
		fmt.Fprintf(out, "%-8s %s (%s)\n", tr.Status, tr.Task, tr.Duration.Round(durationPrecision))
		for _, hr := range tr.HostResults {
			if hr.Status == task.StatusOK {
				continue
			}
			for _, outcome := range hr.Commands {
				if outcome.Status != task.StepError {
					continue
				}
				fmt.Fprintf(out, "  %s: %s: %s\n", hr.Host, outcome.Cmd, strings.TrimSpace(outcome.Output))
			}
		}
	}

	for _, hr := range result.HandlerResults {
		fmt.Fprintf(out, "%-8s %s (%s)\n", hr.Status, hr.Task, hr.Duration.Round(durationPrecision))
	}

	fmt.Fprintf(out, "\n%d run, %d ok, %d failed in %s\n",
		result.TasksRun, result.TasksSucceeded, result.TasksFailed, result.Duration.Round(durationPrecision))
	if result.AbortedAt != "" {
		fmt.Fprintf(out, "aborted at task %s\n", result.AbortedAt)
	}
}
