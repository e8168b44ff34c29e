package resource

import (
	"github.com/nexus-fleet/nexus/internal/facts"
	"github.com/nexus-fleet/nexus/internal/telemetry"
	"github.com/nexus-fleet/nexus/pkg/diff"
)

// Status values for resource results.
const (
	StatusOK      = "ok"
	StatusChanged = "changed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Result captures the outcome of executing one resource. A non-nil Diff
// implies Status == changed.
type Result struct {
	Description string             `json:"resource"`
	Status      string             `json:"status"`
	Diff        *diff.Diff         `json:"diff,omitempty"`
	Message     string             `json:"message,omitempty"`
	Duration    telemetry.Duration `json:"duration_ms"`
	Notify      string             `json:"notify,omitempty"`
}

// Context is the per-host, per-run execution context handed to providers.
// Cancellation travels on the context.Context passed alongside it.
type Context struct {
	Facts     facts.Facts
	HostID    string
	CheckMode bool
}
