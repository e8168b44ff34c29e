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

// systemdProvider manages services through systemctl.
type systemdProvider struct{}

var _ resource.Provider = (*systemdProvider)(nil)

func (p *systemdProvider) Describe(step *config.Step) string {
	return fmt.Sprintf("service[%s] %s via systemd", step.Service.Name, desiredServiceState(step))
}

func (p *systemdProvider) Check(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (resource.State, error) {
	name := step.Service.Name

	active, _, err := probe(ctx, session, fmt.Sprintf("systemctl is-active --quiet %s", name))
	if err != nil {
		return nil, err
	}

	enabled, _, err := probe(ctx, session, fmt.Sprintf("systemctl is-enabled --quiet %s", name))
	if err != nil {
		return nil, err
	}

	return resource.State{
		"active":  boolString(active),
		"enabled": boolString(enabled),
	}, nil
}

func (p *systemdProvider) Diff(step *config.Step, current resource.State) (*diff.Diff, error) {
	return serviceDiff(step, current)
}

func (p *systemdProvider) Apply(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (*resource.Result, error) {
	name := step.Service.Name
	current, err := p.Check(ctx, step, session, ec)
	if err != nil {
		return nil, err
	}

	pending, err := serviceDiff(step, current)
	if err != nil {
		return nil, err
	}
	if !pending.Changed {
		return &resource.Result{Status: resource.StatusOK, Message: "service already in desired state"}, nil
	}

	for _, change := range pending.Changes {
		var cmd string
		switch {
		case change == "start "+name:
			cmd = fmt.Sprintf("systemctl start %s", name)
		case change == "stop "+name:
			cmd = fmt.Sprintf("systemctl stop %s", name)
		case change == "restart "+name:
			cmd = fmt.Sprintf("systemctl restart %s", name)
		case change == "reload "+name:
			cmd = fmt.Sprintf("systemctl reload %s", name)
		case change == "enable "+name:
			cmd = fmt.Sprintf("systemctl enable %s", name)
		case change == "disable "+name:
			cmd = fmt.Sprintf("systemctl disable %s", name)
		default:
			continue
		}

		result, err := session.ExecSudo(ctx, cmd, sshconn.ExecOptions{})
		if err != nil {
			return nil, nexuserrors.NewApplyError(strings.TrimSpace(result.Output), err)
		}
	}

	return &resource.Result{Status: resource.StatusChanged, Message: pending.Summary()}, nil
}

// launchdProvider manages services through launchctl on macOS.
type launchdProvider struct{}

var _ resource.Provider = (*launchdProvider)(nil)

func (p *launchdProvider) Describe(step *config.Step) string {
	return fmt.Sprintf("service[%s] %s via launchd", step.Service.Name, desiredServiceState(step))
}

func (p *launchdProvider) Check(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (resource.State, error) {
	name := step.Service.Name

	active, _, err := probe(ctx, session, fmt.Sprintf("launchctl list %s >/dev/null 2>&1", name))
	if err != nil {
		return nil, err
	}

	// launchd has no separate enabled concept for loaded jobs; loaded
	// implies enabled here.
	return resource.State{
		"active":  boolString(active),
		"enabled": boolString(active),
	}, nil
}

func (p *launchdProvider) Diff(step *config.Step, current resource.State) (*diff.Diff, error) {
	return serviceDiff(step, current)
}

func (p *launchdProvider) Apply(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (*resource.Result, error) {
	name := step.Service.Name
	current, err := p.Check(ctx, step, session, ec)
	if err != nil {
		return nil, err
	}

	pending, err := serviceDiff(step, current)
	if err != nil {
		return nil, err
	}
	if !pending.Changed {
		return &resource.Result{Status: resource.StatusOK, Message: "service already in desired state"}, nil
	}

	for _, change := range pending.Changes {
		var cmd string
		switch {
		case change == "start "+name:
			cmd = fmt.Sprintf("launchctl start %s", name)
		case change == "stop "+name:
			cmd = fmt.Sprintf("launchctl stop %s", name)
		case change == "restart "+name:
			cmd = fmt.Sprintf("launchctl kickstart -k system/%s", name)
		default:
			continue
		}

		result, err := session.ExecSudo(ctx, cmd, sshconn.ExecOptions{})
		if err != nil {
			return nil, nexuserrors.NewApplyError(strings.TrimSpace(result.Output), err)
		}
	}

	return &resource.Result{Status: resource.StatusChanged, Message: pending.Summary()}, nil
}

// serviceDiff is shared by both service providers; it is pure over its
// inputs.
func serviceDiff(step *config.Step, current resource.State) (*diff.Diff, error) {
	name := step.Service.Name
	active := current["active"] == "true"
	enabled := current["enabled"] == "true"

	var changes []string
	switch desiredServiceState(step) {
	case "started":
		if !active {
			changes = append(changes, "start "+name)
		}
	case "stopped":
		if active {
			changes = append(changes, "stop "+name)
		}
	case "restarted":
		changes = append(changes, "restart "+name)
	case "reloaded":
		changes = append(changes, "reload "+name)
	default:
		return nil, fmt.Errorf("unknown service state %q", step.Service.State)
	}

	if step.Service.Enabled != nil {
		switch {
		case *step.Service.Enabled && !enabled:
			changes = append(changes, "enable "+name)
		case !*step.Service.Enabled && enabled:
			changes = append(changes, "disable "+name)
		}
	}

	if len(changes) == 0 {
		return diff.None(), nil
	}

	return diff.New(serviceStateString(active, enabled), desiredServiceState(step), changes...), nil
}

func desiredServiceState(step *config.Step) string {
	if step.Service.State == "" {
		return "started"
	}
	return step.Service.State
}

func serviceStateString(active, enabled bool) string {
	state := "stopped"
	if active {
		state = "started"
	}
	if enabled {
		state += ",enabled"
	}
	return state
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
