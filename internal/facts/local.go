package facts

import (
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
)

// Local derives facts for the machine the engine runs on.
func Local() Facts {
	f := Facts{
		KeyOS:       runtime.GOOS,
		KeyArch:     normalizeArch(runtime.GOARCH),
		KeyCPUCount: strconv.Itoa(runtime.NumCPU()),
	}

	switch runtime.GOOS {
	case OSDarwin:
		f[KeyOSFamily] = FamilyDarwin
	case OSFreeBSD:
		f[KeyOSFamily] = FamilyFreeBSD
	case OSLinux:
		f[KeyOSFamily] = linuxFamilyFromOSRelease()
	default:
		f[KeyOSFamily] = FamilyUnknown
	}

	if hostname, err := os.Hostname(); err == nil {
		f[KeyHostname] = hostname
	}

	if current, err := user.Current(); err == nil {
		f[KeyUser] = current.Username
	}

	if mem := localMemoryMB(); mem > 0 {
		f[KeyMemoryMB] = strconv.Itoa(mem)
	}

	if kernel := localKernelVersion(); kernel != "" {
		f[KeyKernelVersion] = kernel
	}

	return f
}

func linuxFamilyFromOSRelease() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return FamilyUnknown
	}
	if family := parseOSRelease(string(data)); family != "" {
		return family
	}
	return FamilyUnknown
}

// parseOSRelease extracts the OS family from os-release content, checking
// ID first and ID_LIKE tokens second.
func parseOSRelease(content string) string {
	var id string
	var idLike []string

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ID="):
			id = strings.Trim(strings.TrimPrefix(line, "ID="), `"`)
		case strings.HasPrefix(line, "ID_LIKE="):
			raw := strings.Trim(strings.TrimPrefix(line, "ID_LIKE="), `"`)
			idLike = strings.Fields(raw)
		}
	}

	if family := familyFromID(id); family != "" {
		return family
	}
	for _, like := range idLike {
		if family := familyFromID(like); family != "" {
			return family
		}
	}
	return ""
}

func localMemoryMB() int {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}

func localKernelVersion() string {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
