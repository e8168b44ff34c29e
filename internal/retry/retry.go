package retry

import (
	"context"
	"time"

	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// Options shapes a retry loop. Retries is the number of additional
// attempts after the first, so a command runs at most Retries+1 times.
// Delay is fixed between attempts; there is no exponential growth.
type Options struct {
	Retries int
	Delay   time.Duration
}

// Do runs fn up to opts.Retries+1 times, sleeping opts.Delay between
// attempts. It returns the attempt count that produced the final
// outcome and the last error, nil on success. Cancellation between
// attempts returns immediately with a CancelledError.
func Do(ctx context.Context, opts Options, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := opts.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, nexuserrors.NewCancelledError("")
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt < attempts && opts.Delay > 0 {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
				return attempt, nexuserrors.NewCancelledError("")
			}
		}
	}

	return attempts, lastErr
}
