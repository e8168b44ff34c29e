package config

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// LocalTarget is the reserved task target meaning the local machine.
const LocalTarget = "local"

// Strategy names accepted by tasks.
const (
	StrategySerial   = "serial"
	StrategyParallel = "parallel"
	StrategyRolling  = "rolling"
)

// Config represents the full Nexus configuration document.
type Config struct {
	Version     string               `yaml:"version,omitempty"`
	Name        string               `yaml:"name,omitempty"`
	Description string               `yaml:"description,omitempty"`
	Settings    Settings             `yaml:"settings,omitempty"`
	Hosts       map[string]Host      `yaml:"hosts,omitempty" validate:"omitempty,dive"`
	Groups      map[string]HostGroup `yaml:"groups,omitempty" validate:"omitempty,dive"`
	Tasks       map[string]Task      `yaml:"tasks" validate:"required,min=1,dive"`
	Handlers    map[string]Handler   `yaml:"handlers,omitempty" validate:"omitempty,dive"`
}

// Settings holds process-wide execution defaults.
type Settings struct {
	DefaultUser     string `yaml:"default_user,omitempty"`
	DefaultPort     int    `yaml:"default_port,omitempty" validate:"omitempty,min=1,max=65535"`
	ConnectTimeout  int    `yaml:"connect_timeout,omitempty" validate:"omitempty,min=1"`
	CommandTimeout  int    `yaml:"command_timeout,omitempty" validate:"omitempty,min=1"`
	MaxConnections  int    `yaml:"max_connections,omitempty" validate:"omitempty,min=1,max=64"`
	Parallel        int    `yaml:"parallel,omitempty" validate:"omitempty,min=1,max=128"`
	ContinueOnError bool   `yaml:"continue_on_error,omitempty"`
}

// Host identifies one reachable machine. Immutable after parse.
type Host struct {
	Name     string `yaml:"-"`
	Hostname string `yaml:"hostname" validate:"required"`
	User     string `yaml:"user,omitempty"`
	Port     int    `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// UnmarshalYAML accepts either a "[user@]host[:port]" scalar or a mapping.
func (h *Host) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseHostSpec(value.Value)
		if err != nil {
			return err
		}
		*h = parsed
		return nil
	}

	type rawHost Host
	var raw rawHost
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*h = Host(raw)
	if h.Port == 0 {
		h.Port = DefaultSSHPort
	}
	return nil
}

// HostGroup names an ordered list of hosts. Immutable after parse.
type HostGroup struct {
	Name  string   `yaml:"-"`
	Hosts []string `yaml:"hosts" validate:"required,min=1"`
}

// UnmarshalYAML accepts either a bare sequence of host names or a mapping.
func (g *HostGroup) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var hosts []string
		if err := value.Decode(&hosts); err != nil {
			return err
		}
		g.Hosts = hosts
		return nil
	}

	type rawGroup HostGroup
	var raw rawGroup
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*g = HostGroup(raw)
	return nil
}

// Task describes a named unit of work executed on one or more hosts.
type Task struct {
	Name      string   `yaml:"-"`
	Deps      []string `yaml:"deps,omitempty"`
	On        string   `yaml:"on,omitempty"`
	Steps     []Step   `yaml:"commands" validate:"required,min=1,dive"`
	Timeout   int      `yaml:"timeout,omitempty" validate:"omitempty,min=1"`
	Strategy  string   `yaml:"strategy,omitempty" validate:"omitempty,oneof=serial parallel rolling"`
	BatchSize int      `yaml:"batch_size,omitempty" validate:"omitempty,min=1"`
	Parallel  int      `yaml:"parallel,omitempty" validate:"omitempty,min=1,max=128"`
}

// Handler is a named command sequence triggered by resource changes.
type Handler struct {
	Name     string        `yaml:"-"`
	Commands []CommandStep `yaml:"commands" validate:"required,min=1,dive"`
}

// TaskNames returns the config's task names in ascending order.
func (c *Config) TaskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HostNames returns the config's host names in ascending order.
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for name := range c.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveTarget expands a task's "on" value into an ordered host list.
// The local target and an empty target both resolve to no remote hosts.
func (c *Config) ResolveTarget(target string) ([]Host, bool) {
	if target == "" || target == LocalTarget {
		return nil, true
	}

	if host, ok := c.Hosts[target]; ok {
		return []Host{host}, true
	}

	if group, ok := c.Groups[target]; ok {
		hosts := make([]Host, 0, len(group.Hosts))
		for _, name := range group.Hosts {
			host, ok := c.Hosts[name]
			if !ok {
				return nil, false
			}
			hosts = append(hosts, host)
		}
		return hosts, true
	}

	return nil, false
}
