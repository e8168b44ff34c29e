package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/dag"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration without executing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfigPath(configPath); err != nil {
				return err
			}

			cfg, err := config.ParseConfig(configPath)
			if err != nil {
				return err
			}
			if err := config.ValidateConfig(cfg); err != nil {
				return err
			}
			graph, err := dag.Build(cfg.Tasks)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d tasks in %d phases, %d hosts, %d handlers\n",
				len(cfg.Tasks), len(graph.Phases), len(cfg.Hosts), len(cfg.Handlers))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}
