package facts

// Fact keys produced by the gatherer. Providers key their selectors off
// these values.
const (
	KeyOS            = "os"
	KeyOSFamily      = "os_family"
	KeyArch          = "arch"
	KeyHostname      = "hostname"
	KeyCPUCount      = "cpu_count"
	KeyMemoryMB      = "memory_mb"
	KeyKernelVersion = "kernel_version"
	KeyUser          = "user"
)

// OS values.
const (
	OSLinux   = "linux"
	OSDarwin  = "darwin"
	OSWindows = "windows"
	OSFreeBSD = "freebsd"
	OSOpenBSD = "openbsd"
	OSNetBSD  = "netbsd"
)

// OS family values.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyDarwin  = "darwin"
	FamilyFreeBSD = "freebsd"
	FamilyUnknown = "unknown"
)

// Arch values.
const (
	ArchX86_64  = "x86_64"
	ArchAarch64 = "aarch64"
	ArchArm     = "arm"
	ArchUnknown = "unknown"
)

// Facts is a key/value observation map about one host.
type Facts map[string]string

// OS returns the host operating system fact.
func (f Facts) OS() string { return f[KeyOS] }

// OSFamily returns the host OS family fact.
func (f Facts) OSFamily() string {
	if family, ok := f[KeyOSFamily]; ok {
		return family
	}
	return FamilyUnknown
}

// Arch returns the host architecture fact.
func (f Facts) Arch() string {
	if arch, ok := f[KeyArch]; ok {
		return arch
	}
	return ArchUnknown
}

// IsUnixLike reports whether the host runs a Unix-like OS.
func (f Facts) IsUnixLike() bool {
	switch f.OS() {
	case OSLinux, OSDarwin, OSFreeBSD, OSOpenBSD, OSNetBSD:
		return true
	}
	return false
}

// Clone returns an independent copy of the fact map.
func (f Facts) Clone() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// normalizeOS maps a uname -s value onto the canonical os fact.
func normalizeOS(uname string) string {
	switch uname {
	case "Linux":
		return OSLinux
	case "Darwin":
		return OSDarwin
	case "FreeBSD":
		return OSFreeBSD
	case "OpenBSD":
		return OSOpenBSD
	case "NetBSD":
		return OSNetBSD
	default:
		return FamilyUnknown
	}
}

// normalizeArch maps a uname -m value onto the canonical arch fact.
func normalizeArch(machine string) string {
	switch machine {
	case "x86_64", "amd64":
		return ArchX86_64
	case "aarch64", "arm64":
		return ArchAarch64
	case "armv6l", "armv7l", "arm":
		return ArchArm
	default:
		return ArchUnknown
	}
}

// familyFromID maps an os-release ID (or ID_LIKE token) onto the family.
func familyFromID(id string) string {
	switch id {
	case "debian", "ubuntu", "linuxmint", "pop", "raspbian":
		return FamilyDebian
	case "rhel", "centos", "fedora", "rocky", "almalinux", "amzn", "ol":
		return FamilyRHEL
	case "arch", "manjaro", "endeavouros":
		return FamilyArch
	case "alpine":
		return FamilyAlpine
	default:
		return ""
	}
}
