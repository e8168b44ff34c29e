package provider

import (
	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/resource"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// selectorFunc resolves a provider from host facts for one resource kind.
type selectorFunc func(f facts.Facts) (resource.Provider, error)

// Registry maps resource kinds to OS-aware provider selectors.
type Registry struct {
	selectors map[string]selectorFunc
}

var _ resource.Selector = (*Registry)(nil)

// NewRegistry builds the default registry covering every built-in kind.
func NewRegistry() *Registry {
	r := &Registry{selectors: make(map[string]selectorFunc)}

	r.selectors[config.StepPackage] = selectPackage
	r.selectors[config.StepService] = selectService
	r.selectors[config.StepFile] = selectUnixFile
	r.selectors[config.StepDirectory] = selectUnixFile
	r.selectors[config.StepUser] = selectAccount
	r.selectors[config.StepGroup] = selectAccount
	r.selectors[config.StepCommandResource] = func(facts.Facts) (resource.Provider, error) {
		return &commandProvider{}, nil
	}

	return r
}

// ProviderFor implements resource.Selector.
func (r *Registry) ProviderFor(kind string, f facts.Facts) (resource.Provider, error) {
	selector, ok := r.selectors[kind]
	if !ok {
		return nil, nexuserrors.NewUnsupportedOSError(f.OSFamily())
	}
	return selector(f)
}

func selectPackage(f facts.Facts) (resource.Provider, error) {
	switch f.OSFamily() {
	case facts.FamilyDebian:
		return &packageProvider{manager: aptManager}, nil
	case facts.FamilyRHEL:
		return &packageProvider{manager: yumManager}, nil
	case facts.FamilyArch:
		return &packageProvider{manager: pacmanManager}, nil
	case facts.FamilyDarwin:
		return &packageProvider{manager: brewManager}, nil
	default:
		return nil, nexuserrors.NewUnsupportedOSError(f.OSFamily())
	}
}

func selectService(f facts.Facts) (resource.Provider, error) {
	if f.OS() == facts.OSDarwin {
		return &launchdProvider{}, nil
	}
	switch {
	case f.OS() == facts.OSLinux:
		return &systemdProvider{}, nil
	}
	switch f.OSFamily() {
	case facts.FamilyDebian, facts.FamilyRHEL, facts.FamilyArch:
		return &systemdProvider{}, nil
	}
	return nil, nexuserrors.NewUnsupportedOSError(f.OSFamily())
}

func selectUnixFile(f facts.Facts) (resource.Provider, error) {
	if f.IsUnixLike() || f.OSFamily() != facts.FamilyUnknown {
		return &unixFileProvider{}, nil
	}
	return nil, nexuserrors.NewUnsupportedOSError(f.OSFamily())
}

func selectAccount(f facts.Facts) (resource.Provider, error) {
	if f.OS() == facts.OSDarwin || f.OSFamily() == facts.FamilyDarwin {
		return &accountProvider{darwin: true}, nil
	}
	if f.OS() == facts.OSLinux || linuxFamily(f.OSFamily()) {
		return &accountProvider{}, nil
	}
	return nil, nexuserrors.NewUnsupportedOSError(f.OSFamily())
}

func linuxFamily(family string) bool {
	switch family {
	case facts.FamilyDebian, facts.FamilyRHEL, facts.FamilyArch, facts.FamilyAlpine:
		return true
	}
	return false
}
