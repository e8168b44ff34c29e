package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/internal/telemetry"
)

// runUpload copies a local file to the host, then applies mode and
// ownership through the shell. Each companion op fails individually.
func (r *Runner) runUpload(ctx context.Context, session sshconn.Session, up *config.UploadStep) (CommandOutcome, error) {
	start := time.Now()
	label := fmt.Sprintf("upload %s -> %s", up.Source, up.Destination)

	fail := func(err error) (CommandOutcome, error) {
		return CommandOutcome{
			Cmd:      label,
			Status:   StepError,
			Output:   err.Error(),
			Attempts: 1,
			Duration: telemetry.Since(start),
		}, err
	}

	if err := session.Upload(ctx, up.Source, up.Destination); err != nil {
		return fail(err)
	}

	var ops []string
	if up.Mode != "" {
		ops = append(ops, fmt.Sprintf("chmod %s %s", up.Mode, quotePath(up.Destination)))
	}
	if up.Owner != "" {
		ops = append(ops, fmt.Sprintf("chown %s %s", up.Owner, quotePath(up.Destination)))
	}
	if up.Group != "" {
		ops = append(ops, fmt.Sprintf("chgrp %s %s", up.Group, quotePath(up.Destination)))
	}
	for _, op := range ops {
		if result, err := session.ExecSudo(ctx, op, sshconn.ExecOptions{}); err != nil {
			if out := strings.TrimSpace(result.Output); out != "" {
				err = fmt.Errorf("%s: %s", err, out)
			}
			return fail(err)
		}
	}

	return CommandOutcome{
		Cmd:      label,
		Status:   StepOK,
		Attempts: 1,
		Duration: telemetry.Since(start),
	}, nil
}

// runDownload copies a remote file to the local machine.
func (r *Runner) runDownload(ctx context.Context, session sshconn.Session, down *config.DownloadStep) (CommandOutcome, error) {
	start := time.Now()
	label := fmt.Sprintf("download %s -> %s", down.Source, down.Destination)

	if err := session.Download(ctx, down.Source, down.Destination); err != nil {
		return CommandOutcome{
			Cmd:      label,
			Status:   StepError,
			Output:   err.Error(),
			Attempts: 1,
			Duration: telemetry.Since(start),
		}, err
	}

	return CommandOutcome{
		Cmd:      label,
		Status:   StepOK,
		Attempts: 1,
		Duration: telemetry.Since(start),
	}, nil
}

func quotePath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}
