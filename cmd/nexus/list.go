package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexus-fleet/nexus/internal/config"
)

func newListCmd(root *rootFlags) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tasks defined in a configuration",
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

			out := cmd.OutOrStdout()
			for _, name := range cfg.TaskNames() {
				t := cfg.Tasks[name]
				on := t.On
				if on == "" {
					on = config.LocalTarget
				}
				line := fmt.Sprintf("%-24s on=%s strategy=%s steps=%d", name, on, t.Strategy, len(t.Steps))
				if len(t.Deps) > 0 {
					line += " deps=" + strings.Join(t.Deps, ",")
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}
