package config

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSSHPort is assumed when a host spec omits the port.
const DefaultSSHPort = 22

// ParseHostSpec parses a "[user@]host[:port]" string into a Host.
func ParseHostSpec(spec string) (Host, error) {
	rest := strings.TrimSpace(spec)
	if rest == "" {
		return Host{}, fmt.Errorf("empty host spec")
	}

	var user string
	if at := strings.Index(rest, "@"); at >= 0 {
		user = rest[:at]
		rest = rest[at+1:]
		if user == "" {
			return Host{}, fmt.Errorf("invalid host spec %q: empty user", spec)
		}
	}

	port := DefaultSSHPort
	if colon := strings.LastIndex(rest, ":"); colon >= 0 {
		parsed, err := strconv.Atoi(rest[colon+1:])
		if err != nil || parsed < 1 || parsed > 65535 {
			return Host{}, fmt.Errorf("invalid host spec %q: bad port %q", spec, rest[colon+1:])
		}
		port = parsed
		rest = rest[:colon]
	}

	if rest == "" {
		return Host{}, fmt.Errorf("invalid host spec %q: empty hostname", spec)
	}

	return Host{Hostname: rest, User: user, Port: port}, nil
}

// FormatHostSpec renders a Host back into "[user@]host[:port]" form.
// Parsing the result yields the original Host.
func FormatHostSpec(h Host) string {
	var b strings.Builder
	if h.User != "" {
		b.WriteString(h.User)
		b.WriteString("@")
	}
	b.WriteString(h.Hostname)
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	b.WriteString(":")
	b.WriteString(strconv.Itoa(port))
	return b.String()
}

// Address returns the "host:port" dial address for the host.
func (h Host) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return fmt.Sprintf("%s:%d", h.Hostname, port)
}
