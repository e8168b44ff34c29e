package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseConfig loads a configuration file from disk, validates it, and
// returns the resulting model.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nexuserrors.NewParseError(path, 0, err)
	}

	cfg, err := ParseConfigBytes(data)
	if err != nil {
		return nil, wrapParsePath(path, err)
	}

	return cfg, nil
}

// ParseConfigBytes decodes and validates a configuration document.
func ParseConfigBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nexuserrors.NewParseError("", extractLine(err), err)
	}

	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills names from map keys and settles per-entity defaults.
func applyDefaults(cfg *Config) {
	if cfg.Settings.DefaultPort == 0 {
		cfg.Settings.DefaultPort = DefaultSSHPort
	}
	if cfg.Settings.MaxConnections == 0 {
		cfg.Settings.MaxConnections = 5
	}

	for name, host := range cfg.Hosts {
		host.Name = name
		if host.Port == 0 {
			host.Port = cfg.Settings.DefaultPort
		}
		if host.User == "" {
			host.User = cfg.Settings.DefaultUser
		}
		cfg.Hosts[name] = host
	}

	for name, group := range cfg.Groups {
		group.Name = name
		cfg.Groups[name] = group
	}

	for name, task := range cfg.Tasks {
		task.Name = name
		if task.Strategy == "" {
			task.Strategy = StrategyParallel
		}
		if task.Strategy == StrategyRolling && task.BatchSize == 0 {
			task.BatchSize = 1
		}
		cfg.Tasks[name] = task
	}

	for name, handler := range cfg.Handlers {
		handler.Name = name
		cfg.Handlers[name] = handler
	}
}

func wrapParsePath(path string, err error) error {
	if pe, ok := err.(*nexuserrors.ParseError); ok {
		pe.Path = path
		return pe
	}
	return err
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}

	return line
}
