package resource

import (
	"context"

	"github.com/nexus-fleet/nexus/internal/config"
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/sshconn"
	"github.com/nexus-fleet/nexus/pkg/diff"
)

// State is the provider-observed current state of a resource, expressed
// as a flat attribute map so Diff can stay pure over its inputs.
type State map[string]string

// Provider implements the four idempotent operations for one resource
// kind on one OS family.
type Provider interface {
	// Describe renders a short human-readable resource identity.
	Describe(step *config.Step) string

	// Check reads the resource's current state. It must not mutate the
	// host.
	Check(ctx context.Context, step *config.Step, session sshconn.Session, ec Context) (State, error)

	// Diff computes the pending transformation from current state to the
	// desired state. It is pure over (step, current).
	Diff(step *config.Step, current State) (*diff.Diff, error)

	// Apply mutates the host toward the desired state. It must be a no-op
	// when Diff reports no change and must never run in check mode.
	Apply(ctx context.Context, step *config.Step, session sshconn.Session, ec Context) (*Result, error)
}

// Selector resolves a provider for a resource kind given host facts.
// It returns an UnsupportedOSError when no provider fits.
type Selector interface {
	ProviderFor(kind string, f facts.Facts) (Provider, error)
}

// Notifier receives handler names queued by changed resources.
type Notifier interface {
	Notify(name string)
}
