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

// commandProvider runs an arbitrary command guarded by idempotency
// conditions. Guards are evaluated in a fixed order: creates, removes,
// unless, onlyif. The first guard that says "skip" wins.
type commandProvider struct{}

var _ resource.Provider = (*commandProvider)(nil)

func (p *commandProvider) Describe(step *config.Step) string {
	return fmt.Sprintf("command[%s]", truncateCmd(step.CommandRes.Cmd))
}

func (p *commandProvider) Check(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (resource.State, error) {
	res := step.CommandRes
	state := resource.State{}

	if res.Creates != "" {
		exists, _, err := probe(ctx, session, fmt.Sprintf("test -e %s", shellQuote(res.Creates)))
		if err != nil {
			return nil, err
		}
		state["creates_exists"] = boolString(exists)
	}
	if res.Removes != "" {
		exists, _, err := probe(ctx, session, fmt.Sprintf("test -e %s", shellQuote(res.Removes)))
		if err != nil {
			return nil, err
		}
		state["removes_exists"] = boolString(exists)
	}
	if res.Unless != "" {
		ok, _, err := probe(ctx, session, res.Unless)
		if err != nil {
			return nil, err
		}
		state["unless_ok"] = boolString(ok)
	}
	if res.OnlyIf != "" {
		ok, _, err := probe(ctx, session, res.OnlyIf)
		if err != nil {
			return nil, err
		}
		state["onlyif_ok"] = boolString(ok)
	}

	return state, nil
}

func (p *commandProvider) Diff(step *config.Step, current resource.State) (*diff.Diff, error) {
	res := step.CommandRes

	// A satisfied guard means the command's effect is already in place;
	// that is the ok state, not a skip.
	switch {
	case res.Creates != "" && current["creates_exists"] == "true":
		return diff.None(), nil
	case res.Removes != "" && current["removes_exists"] == "false":
		return diff.None(), nil
	case res.Unless != "" && current["unless_ok"] == "true":
		return diff.None(), nil
	case res.OnlyIf != "" && current["onlyif_ok"] == "false":
		return diff.None(), nil
	}

	return diff.New("pending", "run", "run "+truncateCmd(res.Cmd)), nil
}

func (p *commandProvider) Apply(ctx context.Context, step *config.Step, session sshconn.Session, ec resource.Context) (*resource.Result, error) {
	res := step.CommandRes

	var result sshconn.ExecResult
	var err error
	if res.Sudo {
		result, err = session.ExecSudo(ctx, res.Cmd, sshconn.ExecOptions{})
	} else {
		result, err = session.Exec(ctx, res.Cmd, sshconn.ExecOptions{})
	}
	if err != nil {
		return nil, nexuserrors.NewApplyError(strings.TrimSpace(result.Output), err)
	}

	return &resource.Result{
		Status:  resource.StatusChanged,
		Message: strings.TrimSpace(result.Output),
	}, nil
}

func truncateCmd(cmd string) string {
	cmd = strings.SplitN(cmd, "\n", 2)[0]
	if len(cmd) > 60 {
		return cmd[:57] + "..."
	}
	return cmd
}
