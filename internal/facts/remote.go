package facts

import (
	"context"
	"strings"
	"sync"

	"github.com/nexus-fleet/nexus/internal/sshconn"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// probeScript prints key=value lines for every base fact, followed by the
// os-release document between markers for family detection.
const probeScript = `uname_s=$(uname -s); uname_m=$(uname -m)
echo "uname_s=$uname_s"
echo "uname_m=$uname_m"
echo "hostname=$(hostname 2>/dev/null)"
echo "kernel_version=$(uname -r)"
echo "user=$(id -un)"
echo "cpu_count=$(nproc 2>/dev/null || sysctl -n hw.ncpu 2>/dev/null)"
if [ "$uname_s" = "Linux" ]; then
  mem_kb=$(awk '/MemTotal/ {print $2}' /proc/meminfo 2>/dev/null)
  [ -n "$mem_kb" ] && echo "memory_mb=$((mem_kb / 1024))"
else
  mem_b=$(sysctl -n hw.memsize 2>/dev/null)
  [ -n "$mem_b" ] && echo "memory_mb=$((mem_b / 1024 / 1024))"
fi
echo "os_release_begin"
cat /etc/os-release 2>/dev/null
echo "os_release_end"`

// Gatherer produces per-host facts, caching results for its lifetime
// (one pool lifetime by convention).
type Gatherer struct {
	mu    sync.Mutex
	cache map[string]Facts
}

// NewGatherer creates an empty gatherer.
func NewGatherer() *Gatherer {
	return &Gatherer{cache: make(map[string]Facts)}
}

// Local returns facts for the local machine, cached after first call.
func (g *Gatherer) Local() Facts {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cached, ok := g.cache["local"]; ok {
		return cached.Clone()
	}

	f := Local()
	g.cache["local"] = f
	return f.Clone()
}

// Remote gathers facts for a remote host by running the probe script over
// the session. Results are cached per host name.
func (g *Gatherer) Remote(ctx context.Context, hostName string, session sshconn.Session) (Facts, error) {
	g.mu.Lock()
	if cached, ok := g.cache[hostName]; ok {
		g.mu.Unlock()
		return cached.Clone(), nil
	}
	g.mu.Unlock()

	result, err := session.Exec(ctx, probeScript, sshconn.ExecOptions{})
	if err != nil {
		return nil, nexuserrors.NewCheckError("fact probe failed", err)
	}

	f := parseProbeOutput(result.Output)

	g.mu.Lock()
	g.cache[hostName] = f
	g.mu.Unlock()

	return f.Clone(), nil
}

// Invalidate drops the cached facts for one host.
func (g *Gatherer) Invalidate(hostName string) {
	g.mu.Lock()
	delete(g.cache, hostName)
	g.mu.Unlock()
}

func parseProbeOutput(output string) Facts {
	f := Facts{}
	var osRelease strings.Builder
	inOSRelease := false

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "os_release_begin":
			inOSRelease = true
			continue
		case line == "os_release_end":
			inOSRelease = false
			continue
		case inOSRelease:
			osRelease.WriteString(line)
			osRelease.WriteString("\n")
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok || value == "" {
			continue
		}
		switch key {
		case "uname_s":
			f[KeyOS] = normalizeOS(value)
		case "uname_m":
			f[KeyArch] = normalizeArch(value)
		case KeyHostname, KeyKernelVersion, KeyUser, KeyCPUCount, KeyMemoryMB:
			f[key] = value
		}
	}

	switch f[KeyOS] {
	case OSDarwin:
		f[KeyOSFamily] = FamilyDarwin
	case OSFreeBSD:
		f[KeyOSFamily] = FamilyFreeBSD
	case OSLinux:
		if family := parseOSRelease(osRelease.String()); family != "" {
			f[KeyOSFamily] = family
		} else {
			f[KeyOSFamily] = FamilyUnknown
		}
	default:
		f[KeyOSFamily] = FamilyUnknown
	}

	if _, ok := f[KeyArch]; !ok {
		f[KeyArch] = ArchUnknown
	}

	return f
}
