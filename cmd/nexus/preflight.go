package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexus-fleet/nexus/internal/preflight"
)

func newPreflightCmd(root *rootFlags) *cobra.Command {
	opts := appOptions{}
	var skip []string

	cmd := &cobra.Command{
		Use:   "preflight [tasks...]",
		Short: "Check connectivity and configuration before a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.verbose = root.verbose
			if err := validateConfigPath(opts.configPath); err != nil {
				return err
			}

			app, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := preflight.NewRunner(app.cfg, app.pool, preflight.Options{
				Targets: args,
				Skip:    skip,
				Logger:  app.log,
			})
			results := runner.Run(ctx)

			out := cmd.OutOrStdout()
			for _, result := range results {
				if result.Detail != "" {
					fmt.Fprintf(out, "%-8s %s (%s)\n", result.Status, result.Name, result.Detail)
				} else {
					fmt.Fprintf(out, "%-8s %s\n", result.Status, result.Name)
				}
			}

			if !preflight.AllPassed(results) {
				return fmt.Errorf("preflight failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Checks to skip (config, hosts, ssh, sudo, tasks)")
	cmd.Flags().StringVar(&opts.sshConfig, "ssh-config", "", "Path to an OpenSSH-style config with host overrides")
	cmd.Flags().StringVarP(&opts.identityFile, "identity", "i", "", "Path to an SSH private key")
	cmd.Flags().StringVar(&opts.knownHosts, "known-hosts", "", "Path to a known_hosts file")
	cmd.Flags().BoolVar(&opts.strictHostKey, "strict-host-key", false, "Verify host keys against known_hosts")

	return cmd
}
