package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

const sampleConfig = `
version: "1"
name: web-fleet

settings:
  default_user: deploy
  max_connections: 3

hosts:
  web1: deploy@web1.example.com
  web2:
    hostname: web2.example.com
    port: 2222
  db1: db1.example.com

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
  migrate:
    on: db1
    deps: [install]
    commands:
      - type: command
        cmd: ./migrate.sh
        retries: 2
        retry_delay: 500
  cleanup:
    commands:
      - type: command
        cmd: rm -rf /tmp/build

handlers:
  reload-nginx:
    commands:
      - cmd: systemctl reload nginx
        sudo: true
`

func TestParseConfigBytes_FullDocument(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfigBytes([]byte(sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "web-fleet", cfg.Name)
	require.Len(t, cfg.Hosts, 3)
	require.Len(t, cfg.Tasks, 3)

	// Scalar host spec form.
	web1 := cfg.Hosts["web1"]
	require.Equal(t, "web1", web1.Name)
	require.Equal(t, "web1.example.com", web1.Hostname)
	require.Equal(t, "deploy", web1.User)
	require.Equal(t, 22, web1.Port)

	// Mapping form, with default_user filled in.
	web2 := cfg.Hosts["web2"]
	require.Equal(t, 2222, web2.Port)
	require.Equal(t, "deploy", web2.User)

	install := cfg.Tasks["install"]
	require.Equal(t, StrategyParallel, install.Strategy)
	require.Len(t, install.Steps, 1)
	require.Equal(t, StepPackage, install.Steps[0].Type)
	require.Equal(t, "nginx", install.Steps[0].Package.Name)
	require.Equal(t, "reload-nginx", install.Steps[0].Notify())

	migrate := cfg.Tasks["migrate"]
	require.Equal(t, []string{"install"}, migrate.Deps)
	require.Equal(t, 2, migrate.Steps[0].Command.Retries)
	require.Equal(t, 500, migrate.Steps[0].Command.RetryDelay)

	require.Len(t, cfg.Handlers["reload-nginx"].Commands, 1)
}

func TestParseConfigBytes_RollingDefaultsBatchSize(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfigBytes([]byte(`
hosts:
  web1: web1
  web2: web2
groups:
  web: [web1, web2]
tasks:
  deploy:
    on: web
    strategy: rolling
    commands:
      - type: command
        cmd: ./deploy.sh
`))
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Tasks["deploy"].BatchSize)
}

func TestParseConfigBytes_MalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := ParseConfigBytes([]byte("tasks:\n  broken: ["))
	var parseErr *nexuserrors.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseConfigBytes_UnknownStepType(t *testing.T) {
	t.Parallel()

	_, err := ParseConfigBytes([]byte(`
tasks:
  bad:
    commands:
      - type: teleport
        cmd: beam me up
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "teleport")
}

func TestParseConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := ParseConfig("/nonexistent/nexus.yaml")
	var parseErr *nexuserrors.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "/nonexistent/nexus.yaml", parseErr.Path)
}

func TestResolveTarget(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfigBytes([]byte(sampleConfig))
	require.NoError(t, err)

	hosts, ok := cfg.ResolveTarget("web")
	require.True(t, ok)
	require.Len(t, hosts, 2)
	require.Equal(t, "web1", hosts[0].Name)
	require.Equal(t, "web2", hosts[1].Name)

	hosts, ok = cfg.ResolveTarget("db1")
	require.True(t, ok)
	require.Len(t, hosts, 1)

	hosts, ok = cfg.ResolveTarget(LocalTarget)
	require.True(t, ok)
	require.Empty(t, hosts)

	hosts, ok = cfg.ResolveTarget("")
	require.True(t, ok)
	require.Empty(t, hosts)

	_, ok = cfg.ResolveTarget("nope")
	require.False(t, ok)
}
