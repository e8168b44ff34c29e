package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/resource"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/pkg/diff"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// unixFileProvider manages files and directories on Unix-like hosts.
type unixFileProvider struct{}

var _ resource.Provider = (*unixFileProvider)(nil)

// fileProbe prints the observable state of a path as key=value lines.
// stat flags differ between GNU and BSD, hence the fallbacks.
const fileProbe = `p=%s
if [ -e "$p" ]; then
  echo "exists=true"
  [ -d "$p" ] && echo "kind=directory" || echo "kind=file"
  echo "mode=$(stat -c %%a "$p" 2>/dev/null || stat -f %%Lp "$p")"
  echo "owner=$(stat -c %%U "$p" 2>/dev/null || stat -f %%Su "$p")"
  echo "group=$(stat -c %%G "$p" 2>/dev/null || stat -f %%Sg "$p")"
  if [ -f "$p" ]; then
    echo "sha256=$(sha256sum "$p" 2>/dev/null | cut -d' ' -f1 || shasum -a 256 "$p" | cut -d' ' -f1)"
  fi
else
  echo "exists=false"
fi`

func (p *unixFileProvider) Describe(step *config.Step) string {
	if step.Type == config.StepDirectory {
		return fmt.Sprintf("directory[%s] %s", step.Directory.Path, fileDesired(step).state)
	}
	return fmt.Sprintf("file[%s] %s", step.File.Path, fileDesired(step).state)
}

func (p *unixFileProvider) Check(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (resource.State, error) {
	desired := fileDesired(step)

	cmd := fmt.Sprintf(fileProbe, shellQuote(desired.path))
	result, err := session.Exec(ctx, cmd, sshconn.ExecOptions{})
	if err != nil {
		return nil, err
	}

	state := resource.State{}
	for _, line := range strings.Split(result.Output, "\n") {
		if key, value, ok := strings.Cut(strings.TrimSpace(line), "="); ok {
			state[key] = value
		}
	}

	// For content-managed files, capture the current bytes so the diff can
	// render what would change. Unreadable content degrades to the summary.
	if desired.kind == "file" && desired.content != "" && state["exists"] == "true" && state["kind"] == "file" {
		if cat, err := session.Exec(ctx, "cat "+shellQuote(desired.path), sshconn.ExecOptions{}); err == nil {
			state["content"] = cat.Output
		}
	}
	return state, nil
}

func (p *unixFileProvider) Diff(step *config.Step, current resource.State) (*diff.Diff, error) {
	desired := fileDesired(step)
	exists := current["exists"] == "true"

	if desired.state == "absent" {
		if !exists {
			return diff.None(), nil
		}
		return diff.New("present", "absent", "remove "+desired.path), nil
	}

	var changes []string
	var detail string
	if !exists {
		changes = append(changes, "create "+desired.kind+" "+desired.path)
		if desired.kind == "file" && desired.content != "" {
			detail = diff.Unified(nil, []byte(desired.content), desired.path+" (absent)", desired.path)
		}
	} else if desired.kind == "file" && desired.content != "" {
		sum := sha256.Sum256([]byte(desired.content))
		if current["sha256"] != hex.EncodeToString(sum[:]) {
			changes = append(changes, "update content of "+desired.path)
			if before, ok := current["content"]; ok {
				detail = diff.Unified([]byte(before), []byte(desired.content), desired.path, desired.path+" (desired)")
			}
		}
	}

	if desired.mode != "" && (!exists || normalizeMode(current["mode"]) != normalizeMode(desired.mode)) {
		changes = append(changes, fmt.Sprintf("set mode %s on %s", desired.mode, desired.path))
	}
	if desired.owner != "" && (!exists || current["owner"] != desired.owner) {
		changes = append(changes, fmt.Sprintf("set owner %s on %s", desired.owner, desired.path))
	}
	if desired.group != "" && (!exists || current["group"] != desired.group) {
		changes = append(changes, fmt.Sprintf("set group %s on %s", desired.group, desired.path))
	}

	if len(changes) == 0 {
		return diff.None(), nil
	}

	before := "absent"
	if exists {
		before = "present"
	}
	d := diff.New(before, "present", changes...)
	d.Detail = detail
	return d, nil
}

func (p *unixFileProvider) Apply(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (*resource.Result, error) {
	desired := fileDesired(step)

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

	if desired.state == "absent" {
		rm := "rm -f"
		if desired.kind == "directory" {
			rm = "rm -rf"
		}
		result, err := session.ExecSudo(ctx, fmt.Sprintf("%s %s", rm, shellQuote(desired.path)), sshconn.ExecOptions{})
		if err != nil {
			return nil, nexuserrors.NewApplyError(strings.TrimSpace(result.Output), err)
		}
		return &resource.Result{Status: resource.StatusChanged, Message: pending.Summary()}, nil
	}

	if desired.kind == "directory" {
		if current["exists"] != "true" {
			if err := session.MkdirAll(ctx, desired.path); err != nil {
				return nil, nexuserrors.NewApplyError("mkdir "+desired.path, err)
			}
		}
	} else if needsContentWrite(pending) {
		if err := session.UploadBytes(ctx, []byte(desired.content), desired.path); err != nil {
			return nil, nexuserrors.NewApplyError("write "+desired.path, err)
		}
	}

	// Ownership and mode changes go through the shell so privilege
	// escalation applies; each failure surfaces individually.
	for _, change := range pending.Changes {
		var cmd string
		switch {
		case strings.HasPrefix(change, "set mode "):
			cmd = fmt.Sprintf("chmod %s %s", desired.mode, shellQuote(desired.path))
		case strings.HasPrefix(change, "set owner "):
			cmd = fmt.Sprintf("chown %s %s", desired.owner, shellQuote(desired.path))
		case strings.HasPrefix(change, "set group "):
			cmd = fmt.Sprintf("chgrp %s %s", desired.group, shellQuote(desired.path))
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

type fileSpec struct {
	path    string
	kind    string
	state   string
	content string
	mode    string
	owner   string
	group   string
}

func fileDesired(step *config.Step) fileSpec {
	if step.Type == config.StepDirectory {
		d := step.Directory
		state := d.State
		if state == "" {
			state = "present"
		}
		return fileSpec{path: d.Path, kind: "directory", state: state, mode: d.Mode, owner: d.Owner, group: d.Group}
	}

	f := step.File
	state := f.State
	if state == "" {
		state = "present"
	}
	return fileSpec{path: f.Path, kind: "file", state: state, content: f.Content, mode: f.Mode, owner: f.Owner, group: f.Group}
}

func needsContentWrite(pending *diff.Diff) bool {
	for _, change := range pending.Changes {
		if strings.HasPrefix(change, "create file ") || strings.HasPrefix(change, "update content ") {
			return true
		}
	}
	return false
}

func normalizeMode(mode string) string {
	return strings.TrimPrefix(mode, "0")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
