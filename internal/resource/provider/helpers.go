package provider

import (
	"context"
	"errors"

	"github.com/nexus-fleet/nexus/internal/sshconn"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// probe runs a read-only command and reports whether it exited zero.
// Non-zero exits are observations, not failures; transport errors are.
func probe(ctx context.Context, session sshconn.Session, cmd string) (bool, string, error) {
	result, err := session.Exec(ctx, cmd, sshconn.ExecOptions{})
	if err != nil {
		var cmdErr *nexuserrors.CommandError
		if errors.As(err, &cmdErr) {
			return false, result.Output, nil
		}
		return false, "", err
	}
	return result.ExitCode == 0, result.Output, nil
}
