package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/logger"
	"github.com/nexus-fleet/nexus/internal/resource/provider"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/internal/telemetry"
)

type appOptions struct {
	configPath    string
	verbose       bool
	sshConfig     string
	identityFile  string
	knownHosts    string
	strictHostKey bool
}

// app bundles the wired engine collaborators for one CLI invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	pool     *sshconn.Pool
	gatherer *facts.Gatherer
	registry *provider.Registry
	events   telemetry.Emitter
}

func buildApp(opts appOptions) (*app, error) {
	cfg, err := config.ParseConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	level := "info"
	if opts.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: true})
	if err != nil {
		return nil, err
	}

	events := telemetry.Emitter{Sink: telemetry.LoggerSink{Logger: log}}

	overrides, err := loadSSHOverrides(opts.sshConfig)
	if err != nil {
		return nil, err
	}

	dialer := &sshconn.SSHDialer{
		Auth:           sshconn.AuthOptions{IdentityFile: opts.identityFile},
		Overrides:      overrides,
		ConnectTimeout: time.Duration(cfg.Settings.ConnectTimeout) * time.Millisecond,
		StrictHostKey:  opts.strictHostKey,
		KnownHostsFile: opts.knownHosts,
		Events:         events,
	}

	pool := sshconn.NewPool(dialer, sshconn.PoolOptions{
		Capacity: cfg.Settings.MaxConnections,
		Logger:   log,
	})

	return &app{
		cfg:      cfg,
		log:      log,
		pool:     pool,
		gatherer: facts.NewGatherer(),
		registry: provider.NewRegistry(),
		events:   events,
	}, nil
}

func (a *app) Close() {
	a.pool.CloseAll()
}

// loadSSHOverrides reads the given ssh-config path, or the user's
// default one when it exists. A missing default is not an error.
func loadSSHOverrides(path string) (*sshconn.OverrideSet, error) {
	if path != "" {
		return sshconn.LoadOverrides(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	defaultPath := filepath.Join(home, ".ssh", "config")
	if _, err := os.Stat(defaultPath); err != nil {
		return nil, nil
	}
	return sshconn.LoadOverrides(defaultPath)
}
