package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterConfig = `version: "1"
name: example

settings:
  default_user: deploy
  max_connections: 5

hosts:
  web1: deploy@web1.example.com
  web2: deploy@web2.example.com:2222

groups:
  web:
    - web1
    - web2

tasks:
  install:
    on: web
    commands:
      - type: package
        name: nginx
        state: installed
        notify: reload-nginx

  deploy:
    deps: [install]
    on: web
    strategy: rolling
    batch_size: 1
    commands:
      - type: command
        cmd: systemctl restart myapp
        sudo: true
      - type: wait_for
        kind: http
        url: http://localhost:8080/healthz
        timeout: 30000

handlers:
  reload-nginx:
    commands:
      - cmd: systemctl reload nginx
        sudo: true
`

func newInitCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "output", "o", "nexus.yaml", "Where to write the starter config")

	return cmd
}
