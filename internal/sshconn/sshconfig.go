package sshconn

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
	sshconfig "github.com/kevinburke/ssh_config"
)

// HostOverride carries per-host settings resolved from the ssh-config
// style override source.
type HostOverride struct {
	Hostname              string
	User                  string
	Port                  int
	IdentityFile          string
	ConnectTimeout        time.Duration
	ProxyJump             string
	ForwardAgent          bool
	StrictHostKeyChecking *bool
}

type overrideBlock struct {
	patterns []hostPattern
	values   HostOverride
	set      map[string]bool
}

type hostPattern struct {
	matcher glob.Glob
	negate  bool
}

// OverrideSet holds ordered override blocks. Matching blocks merge with
// earlier entries taking precedence over later ones.
type OverrideSet struct {
	blocks []overrideBlock
}

// NewOverrideSet builds an empty set.
func NewOverrideSet() *OverrideSet {
	return &OverrideSet{}
}

// Add appends a block with the given host patterns. Patterns use glob
// semantics: '*' any characters, '?' a single character, and a leading '!'
// negates the pattern. A block matches when any positive pattern matches
// and no negated pattern does.
func (s *OverrideSet) Add(patterns []string, values HostOverride, set map[string]bool) error {
	block := overrideBlock{values: values, set: set}
	for _, raw := range patterns {
		negate := strings.HasPrefix(raw, "!")
		if negate {
			raw = raw[1:]
		}
		matcher, err := glob.Compile(raw)
		if err != nil {
			return err
		}
		block.patterns = append(block.patterns, hostPattern{matcher: matcher, negate: negate})
	}
	s.blocks = append(s.blocks, block)
	return nil
}

// Resolve merges every block matching the host name. Earlier blocks win
// for any field set in more than one block.
func (s *OverrideSet) Resolve(host string) HostOverride {
	var merged HostOverride
	taken := make(map[string]bool)

	for _, block := range s.blocks {
		if !block.matches(host) {
			continue
		}
		for field := range block.set {
			if taken[field] {
				continue
			}
			taken[field] = true
			switch field {
			case "hostname":
				merged.Hostname = block.values.Hostname
			case "user":
				merged.User = block.values.User
			case "port":
				merged.Port = block.values.Port
			case "identityfile":
				merged.IdentityFile = block.values.IdentityFile
			case "connecttimeout":
				merged.ConnectTimeout = block.values.ConnectTimeout
			case "proxyjump":
				merged.ProxyJump = block.values.ProxyJump
			case "forwardagent":
				merged.ForwardAgent = block.values.ForwardAgent
			case "stricthostkeychecking":
				merged.StrictHostKeyChecking = block.values.StrictHostKeyChecking
			}
		}
	}

	return merged
}

func (b overrideBlock) matches(host string) bool {
	matched := false
	for _, p := range b.patterns {
		if p.matcher.Match(host) {
			if p.negate {
				return false
			}
			matched = true
		}
	}
	return matched
}

// LoadOverrides reads an OpenSSH-style config file into an OverrideSet,
// preserving block order.
func LoadOverrides(path string) (*OverrideSet, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	defer f.Close()

	parsed, err := sshconfig.Decode(f)
	if err != nil {
		return nil, err
	}

	set := NewOverrideSet()
	for _, block := range parsed.Hosts {
		patterns := make([]string, 0, len(block.Patterns))
		for _, p := range block.Patterns {
			patterns = append(patterns, p.String())
		}

		values, fields := decodeBlockValues(block)
		if len(fields) == 0 {
			continue
		}
		if err := set.Add(patterns, values, fields); err != nil {
			return nil, err
		}
	}

	return set, nil
}

func decodeBlockValues(block *sshconfig.Host) (HostOverride, map[string]bool) {
	var values HostOverride
	fields := make(map[string]bool)

	for _, node := range block.Nodes {
		kv, ok := node.(*sshconfig.KV)
		if !ok {
			continue
		}

		key := strings.ToLower(kv.Key)
		switch key {
		case "hostname":
			values.Hostname = kv.Value
		case "user":
			values.User = kv.Value
		case "port":
			if port, err := strconv.Atoi(kv.Value); err == nil {
				values.Port = port
			} else {
				continue
			}
		case "identityfile":
			values.IdentityFile = kv.Value
		case "connecttimeout":
			if secs, err := strconv.Atoi(kv.Value); err == nil {
				values.ConnectTimeout = time.Duration(secs) * time.Second
			} else {
				continue
			}
		case "proxyjump":
			values.ProxyJump = kv.Value
		case "forwardagent":
			values.ForwardAgent = strings.EqualFold(kv.Value, "yes")
		case "stricthostkeychecking":
			strict := strings.EqualFold(kv.Value, "yes")
			values.StrictHostKeyChecking = &strict
		default:
			continue
		}
		fields[key] = true
	}

	return values, fields
}
