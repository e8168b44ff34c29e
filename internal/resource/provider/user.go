package provider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/resource"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/pkg/diff"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// accountProvider manages user and group accounts. On Linux it drives
// useradd/groupadd and friends; on macOS it goes through sysadminctl
// and dseditgroup.
type accountProvider struct {
	darwin bool
}

var _ resource.Provider = (*accountProvider)(nil)

func (p *accountProvider) Describe(step *config.Step) string {
	if step.Type == config.StepGroup {
		return fmt.Sprintf("group[%s] %s", step.Group.Name, desiredAccountState(step))
	}
	return fmt.Sprintf("user[%s] %s", step.User.Name, desiredAccountState(step))
}

func (p *accountProvider) Check(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (resource.State, error) {
	if step.Type == config.StepGroup {
		return p.checkGroup(ctx, step.Group, session)
	}
	return p.checkUser(ctx, step.User, session)
}

func (p *accountProvider) checkUser(ctx context.Context, u *config.UserResource, session sshconn.Session) (resource.State, error) {
	exists, output, err := probe(ctx, session, fmt.Sprintf("id -u %s 2>/dev/null", u.Name))
	if err != nil {
		return nil, err
	}
	state := resource.State{"exists": boolString(exists)}
	if !exists {
		return state, nil
	}
	state["uid"] = strings.TrimSpace(output)

	// getent works on Linux; dscl fills in on macOS.
	entCmd := fmt.Sprintf("getent passwd %s 2>/dev/null || dscl . -read /Users/%s UserShell NFSHomeDirectory 2>/dev/null", u.Name, u.Name)
	result, err := session.Exec(ctx, entCmd, sshconn.ExecOptions{})
	if err == nil {
		shell, home := parsePasswdEntry(result.Output)
		state["shell"] = shell
		state["home"] = home
	}

	groupsResult, err := session.Exec(ctx, fmt.Sprintf("id -Gn %s 2>/dev/null", u.Name), sshconn.ExecOptions{})
	if err == nil {
		state["groups"] = normalizeGroups(strings.Fields(groupsResult.Output))
	}
	return state, nil
}

func (p *accountProvider) checkGroup(ctx context.Context, g *config.GroupResource, session sshconn.Session) (resource.State, error) {
	var cmd string
	if p.darwin {
		cmd = fmt.Sprintf("dscl . -read /Groups/%s PrimaryGroupID 2>/dev/null | awk '{print $2}'", g.Name)
	} else {
		cmd = fmt.Sprintf("getent group %s 2>/dev/null | cut -d: -f3", g.Name)
	}

	exists, output, err := probe(ctx, session, cmd)
	if err != nil {
		return nil, err
	}
	state := resource.State{"exists": boolString(exists && strings.TrimSpace(output) != "")}
	if state["exists"] == "true" {
		state["gid"] = strings.TrimSpace(output)
	}
	return state, nil
}

func (p *accountProvider) Diff(step *config.Step, current resource.State) (*diff.Diff, error) {
	if step.Type == config.StepGroup {
		return groupDiff(step.Group, current)
	}
	return userDiff(step.User, current)
}

func userDiff(u *config.UserResource, current resource.State) (*diff.Diff, error) {
	exists := current["exists"] == "true"

	if desiredState(u.State) == "absent" {
		if !exists {
			return diff.None(), nil
		}
		return diff.New("present", "absent", "remove user "+u.Name), nil
	}

	var changes []string
	if !exists {
		changes = append(changes, "create user "+u.Name)
	} else {
		if u.UID != 0 && current["uid"] != strconv.Itoa(u.UID) {
			changes = append(changes, fmt.Sprintf("set uid %d for %s", u.UID, u.Name))
		}
		if u.Shell != "" && current["shell"] != u.Shell {
			changes = append(changes, fmt.Sprintf("set shell %s for %s", u.Shell, u.Name))
		}
		if u.Home != "" && current["home"] != u.Home {
			changes = append(changes, fmt.Sprintf("set home %s for %s", u.Home, u.Name))
		}
	}
	if len(u.Groups) > 0 && (!exists || current["groups"] != normalizeGroups(u.Groups)) {
		changes = append(changes, fmt.Sprintf("set groups %s for %s", strings.Join(u.Groups, ","), u.Name))
	}

	if len(changes) == 0 {
		return diff.None(), nil
	}
	before := "absent"
	if exists {
		before = "present"
	}
	return diff.New(before, "present", changes...), nil
}

func groupDiff(g *config.GroupResource, current resource.State) (*diff.Diff, error) {
	exists := current["exists"] == "true"

	if desiredState(g.State) == "absent" {
		if !exists {
			return diff.None(), nil
		}
		return diff.New("present", "absent", "remove group "+g.Name), nil
	}

	var changes []string
	if !exists {
		changes = append(changes, "create group "+g.Name)
	} else if g.GID != 0 && current["gid"] != strconv.Itoa(g.GID) {
		changes = append(changes, fmt.Sprintf("set gid %d for %s", g.GID, g.Name))
	}

	if len(changes) == 0 {
		return diff.None(), nil
	}
	before := "absent"
	if exists {
		before = "present"
	}
	return diff.New(before, "present", changes...), nil
}

func (p *accountProvider) Apply(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (*resource.Result, error) {
	current, err := p.Check(ctx, step, session, ec)
	if err != nil {
		return nil, err
	}
	pending, err := p.Diff(step, current)
	if err != nil {
		return nil, err
	}
	if !pending.Changed {
		return &resource.Result{Status: resource.StatusOK, Message: "already in desired state"}, nil
	}

	var cmds []string
	if step.Type == config.StepGroup {
		cmds = p.groupCommands(step.Group, pending)
	} else {
		cmds = p.userCommands(step.User, pending)
	}

	for _, cmd := range cmds {
		result, err := session.ExecSudo(ctx, cmd, sshconn.ExecOptions{})
		if err != nil {
			return nil, nexuserrors.NewApplyError(strings.TrimSpace(result.Output), err)
		}
	}

	return &resource.Result{Status: resource.StatusChanged, Message: pending.Summary()}, nil
}

func (p *accountProvider) userCommands(u *config.UserResource, pending *diff.Diff) []string {
	var cmds []string
	for _, change := range pending.Changes {
		switch {
		case strings.HasPrefix(change, "remove user "):
			if p.darwin {
				cmds = append(cmds, fmt.Sprintf("sysadminctl -deleteUser %s", u.Name))
			} else {
				cmds = append(cmds, fmt.Sprintf("userdel %s", u.Name))
			}
		case strings.HasPrefix(change, "create user "):
			if p.darwin {
				cmds = append(cmds, fmt.Sprintf("sysadminctl -addUser %s", u.Name))
			} else {
				cmds = append(cmds, buildUseraddCmd(u))
			}
		case strings.HasPrefix(change, "set uid "):
			cmds = append(cmds, fmt.Sprintf("usermod -u %d %s", u.UID, u.Name))
		case strings.HasPrefix(change, "set shell "):
			if p.darwin {
				cmds = append(cmds, fmt.Sprintf("dscl . -create /Users/%s UserShell %s", u.Name, u.Shell))
			} else {
				cmds = append(cmds, fmt.Sprintf("usermod -s %s %s", u.Shell, u.Name))
			}
		case strings.HasPrefix(change, "set home "):
			if p.darwin {
				cmds = append(cmds, fmt.Sprintf("dscl . -create /Users/%s NFSHomeDirectory %s", u.Name, u.Home))
			} else {
				cmds = append(cmds, fmt.Sprintf("usermod -d %s %s", u.Home, u.Name))
			}
		case strings.HasPrefix(change, "set groups "):
			if p.darwin {
				for _, group := range u.Groups {
					cmds = append(cmds, fmt.Sprintf("dseditgroup -o edit -a %s -t user %s", u.Name, group))
				}
			} else {
				cmds = append(cmds, fmt.Sprintf("usermod -G %s %s", strings.Join(u.Groups, ","), u.Name))
			}
		}
	}
	return cmds
}

func (p *accountProvider) groupCommands(g *config.GroupResource, pending *diff.Diff) []string {
	var cmds []string
	for _, change := range pending.Changes {
		switch {
		case strings.HasPrefix(change, "remove group "):
			if p.darwin {
				cmds = append(cmds, fmt.Sprintf("dseditgroup -o delete %s", g.Name))
			} else {
				cmds = append(cmds, fmt.Sprintf("groupdel %s", g.Name))
			}
		case strings.HasPrefix(change, "create group "):
			if p.darwin {
				cmds = append(cmds, fmt.Sprintf("dseditgroup -o create %s", g.Name))
			} else {
				cmds = append(cmds, buildGroupaddCmd(g))
			}
		case strings.HasPrefix(change, "set gid "):
			cmds = append(cmds, fmt.Sprintf("groupmod -g %d %s", g.GID, g.Name))
		}
	}
	return cmds
}

func buildUseraddCmd(u *config.UserResource) string {
	parts := []string{"useradd"}
	if u.System {
		parts = append(parts, "-r")
	}
	if u.UID != 0 {
		parts = append(parts, "-u", strconv.Itoa(u.UID))
	}
	if u.Shell != "" {
		parts = append(parts, "-s", u.Shell)
	}
	if u.Home != "" {
		parts = append(parts, "-d", u.Home, "-m")
	}
	if len(u.Groups) > 0 {
		parts = append(parts, "-G", strings.Join(u.Groups, ","))
	}
	parts = append(parts, u.Name)
	return strings.Join(parts, " ")
}

func buildGroupaddCmd(g *config.GroupResource) string {
	parts := []string{"groupadd"}
	if g.System {
		parts = append(parts, "-r")
	}
	if g.GID != 0 {
		parts = append(parts, "-g", strconv.Itoa(g.GID))
	}
	parts = append(parts, g.Name)
	return strings.Join(parts, " ")
}

// parsePasswdEntry extracts shell and home from either a passwd(5) line
// or dscl key-value output.
func parsePasswdEntry(output string) (shell, home string) {
	line := strings.TrimSpace(output)
	if fields := strings.Split(line, ":"); len(fields) >= 7 {
		return strings.TrimSpace(fields[6]), strings.TrimSpace(fields[5])
	}
	for _, l := range strings.Split(output, "\n") {
		if value, ok := strings.CutPrefix(strings.TrimSpace(l), "UserShell: "); ok {
			shell = value
		}
		if value, ok := strings.CutPrefix(strings.TrimSpace(l), "NFSHomeDirectory: "); ok {
			home = value
		}
	}
	return shell, home
}

// normalizeGroups produces a stable sorted comma list for comparison.
func normalizeGroups(groups []string) string {
	sorted := make([]string, len(groups))
	copy(sorted, groups)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func desiredState(state string) string {
	if state == "" {
		return "present"
	}
	return state
}

func desiredAccountState(step *config.Step) string {
	if step.Type == config.StepGroup {
		return desiredState(step.Group.State)
	}
	return desiredState(step.User.State)
}
