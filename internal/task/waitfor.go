package task

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/internal/telemetry"
	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

const (
	defaultWaitInterval = time.Second
	defaultWaitTimeout  = 60 * time.Second
)

// runWaitFor polls a health condition until it holds or the step's
// timeout expires. session may be nil for http and tcp kinds; the
// command kind requires one.
func (r *Runner) runWaitFor(ctx context.Context, hostName string, session sshconn.Session, w *config.WaitForStep) CommandOutcome {
	start := time.Now()
	label := waitForLabel(w)

	interval := msDuration(w.Interval)
	if interval <= 0 {
		interval = defaultWaitInterval
	}
	timeout := msDuration(w.Timeout)
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := 0
	var lastDetail string
	for {
		attempts++

		ok, detail := r.pollOnce(pollCtx, hostName, session, w)
		if ok {
			return CommandOutcome{
				Cmd:      label,
				Status:   StepOK,
				Attempts: attempts,
				Duration: telemetry.Since(start),
			}
		}
		if detail != "" {
			lastDetail = detail
		}

		select {
		case <-pollCtx.Done():
			reason := nexuserrors.NewTimeoutError(label).Error()
			if !errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
				reason = nexuserrors.NewCancelledError(label).Error()
			}
			if lastDetail != "" {
				reason += ": " + lastDetail
			}
			return CommandOutcome{
				Cmd:      label,
				Status:   StepError,
				Output:   reason,
				Attempts: attempts,
				Duration: telemetry.Since(start),
			}
		case <-time.After(interval):
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context, hostName string, session sshconn.Session, w *config.WaitForStep) (bool, string) {
	switch w.Kind {
	case config.WaitForHTTP:
		return pollHTTP(ctx, w)
	case config.WaitForTCP:
		return pollTCP(ctx, hostName, w)
	case config.WaitForCommand:
		if session == nil {
			return false, "no session for command health check"
		}
		result, err := session.Exec(ctx, w.Cmd, sshconn.ExecOptions{})
		if err != nil {
			var cmdErr *nexuserrors.CommandError
			if errors.As(err, &cmdErr) {
				return false, fmt.Sprintf("exit %d", cmdErr.ExitCode)
			}
			return false, err.Error()
		}
		return result.ExitCode == 0, ""
	default:
		return false, fmt.Sprintf("unknown wait_for kind %q", w.Kind)
	}
}

func pollHTTP(ctx context.Context, w *config.WaitForStep) (bool, string) {
	client := resty.New().SetTimeout(10 * time.Second)
	resp, err := client.R().SetContext(ctx).Get(w.URL)
	if err != nil {
		return false, err.Error()
	}

	code := resp.StatusCode()
	if w.Status > 0 {
		return code == w.Status, fmt.Sprintf("status %d", code)
	}
	return code >= 200 && code < 300, fmt.Sprintf("status %d", code)
}

func pollTCP(ctx context.Context, hostName string, w *config.WaitForStep) (bool, string) {
	host := w.Host
	if host == "" {
		host = hostName
	}
	addr := net.JoinHostPort(host, strconv.Itoa(w.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, err.Error()
	}
	_ = conn.Close()
	return true, ""
}

func waitForLabel(w *config.WaitForStep) string {
	switch w.Kind {
	case config.WaitForHTTP:
		return "wait_for http " + w.URL
	case config.WaitForTCP:
		return fmt.Sprintf("wait_for tcp %s:%d", w.Host, w.Port)
	default:
		return "wait_for command " + w.Cmd
	}
}
