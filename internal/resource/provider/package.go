package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/resource"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/pkg/diff"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// packageManager carries the shell recipes for one package tool.
// currentMarker is the substring the tool prints when an upgrade found
// nothing to do; its presence downgrades the apply to a no-op.
type packageManager struct {
	name          string
	queryCmd      string // exits 0 when the package is installed
	installCmd    string
	upgradeCmd    string
	removeCmd     string
	currentMarker string
	sudo          bool
}

var aptManager = packageManager{
	name:          "apt",
	queryCmd:      "dpkg-query -W -f='${Status}' %s 2>/dev/null | grep -q 'install ok installed'",
	installCmd:    "DEBIAN_FRONTEND=noninteractive apt-get install -y %s",
	upgradeCmd:    "DEBIAN_FRONTEND=noninteractive apt-get install -y --only-upgrade %s",
	removeCmd:     "DEBIAN_FRONTEND=noninteractive apt-get remove -y %s",
	currentMarker: "0 upgraded",
	sudo:          true,
}

var yumManager = packageManager{
	name:          "yum",
	queryCmd:      "rpm -q %s >/dev/null 2>&1",
	installCmd:    "yum install -y %s",
	upgradeCmd:    "yum update -y %s",
	removeCmd:     "yum remove -y %s",
	currentMarker: "Nothing to do",
	sudo:          true,
}

var pacmanManager = packageManager{
	name:          "pacman",
	queryCmd:      "pacman -Qi %s >/dev/null 2>&1",
	installCmd:    "pacman -S --noconfirm %s",
	upgradeCmd:    "pacman -S --noconfirm %s",
	removeCmd:     "pacman -R --noconfirm %s",
	currentMarker: "is up to date",
	sudo:          true,
}

var brewManager = packageManager{
	name:          "brew",
	queryCmd:      "brew list %s >/dev/null 2>&1",
	installCmd:    "brew install %s",
	upgradeCmd:    "brew upgrade %s",
	removeCmd:     "brew uninstall %s",
	currentMarker: "already installed",
	sudo:          false,
}

type packageProvider struct {
	manager packageManager
}

var _ resource.Provider = (*packageProvider)(nil)

func (p *packageProvider) Describe(step *config.Step) string {
	return fmt.Sprintf("package[%s] %s via %s", step.Package.Name, desiredPackageState(step), p.manager.name)
}

func (p *packageProvider) Check(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (resource.State, error) {
	cmd := fmt.Sprintf(p.manager.queryCmd, step.Package.Name)
	installed, _, err := probe(ctx, session, cmd)
	if err != nil {
		return nil, err
	}

	state := resource.State{"installed": "false"}
	if installed {
		state["installed"] = "true"
	}
	return state, nil
}

func (p *packageProvider) Diff(step *config.Step, current resource.State) (*diff.Diff, error) {
	installed := current["installed"] == "true"
	name := step.Package.Name

	switch desiredPackageState(step) {
	case "installed":
		if installed {
			return diff.None(), nil
		}
		return diff.New("absent", "installed", "install "+name), nil
	case "latest":
		if !installed {
			return diff.New("absent", "installed", "install "+name), nil
		}
		// Installed but possibly stale; the apply attempts an upgrade and
		// downgrades to ok when the manager reports nothing to do.
		return diff.New("installed", "latest", "upgrade "+name), nil
	case "absent":
		if !installed {
			return diff.None(), nil
		}
		return diff.New("installed", "absent", "remove "+name), nil
	default:
		return nil, fmt.Errorf("unknown package state %q", step.Package.State)
	}
}

func (p *packageProvider) Apply(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (*resource.Result, error) {
	name := step.Package.Name

	var template string
	var upgrading bool
	switch desiredPackageState(step) {
	case "installed", "latest":
		current, err := p.Check(ctx, step, session, ec)
		if err != nil {
			return nil, err
		}
		if current["installed"] == "true" && desiredPackageState(step) == "installed" {
			return &resource.Result{Status: resource.StatusOK, Message: "already installed"}, nil
		}
		if current["installed"] == "true" {
			template = p.manager.upgradeCmd
			upgrading = true
		} else {
			template = p.manager.installCmd
		}
	case "absent":
		template = p.manager.removeCmd
	}

	cmd := fmt.Sprintf(template, name)
	result, err := p.exec(ctx, session, cmd)
	if err != nil {
		return nil, nexuserrors.NewApplyError(strings.TrimSpace(result.Output), err)
	}

	// An upgrade that found the package already current is not a change;
	// reporting changed here would re-fire notify handlers on every run.
	if upgrading && p.manager.currentMarker != "" && strings.Contains(result.Output, p.manager.currentMarker) {
		return &resource.Result{Status: resource.StatusOK, Message: "already latest"}, nil
	}

	return &resource.Result{Status: resource.StatusChanged, Message: "package " + desiredPackageState(step)}, nil
}

func (p *packageProvider) exec(ctx context.Context, session sshconn.Session, cmd string) (sshconn.ExecResult, error) {
	if p.manager.sudo {
		return session.ExecSudo(ctx, cmd, sshconn.ExecOptions{})
	}
	return session.Exec(ctx, cmd, sshconn.ExecOptions{})
}

func desiredPackageState(step *config.Step) string {
	if step.Package.State == "" {
		return "installed"
	}
	return step.Package.State
}
