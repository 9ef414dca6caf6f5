package tools

import (
	"context"
	"time"

	"github.com/homelab-ops/warden/pkg/models"
)

// InvocationSink receives completed tool invocations. The pipeline wires a
// sink that appends to the incident record in completion order.
type InvocationSink interface {
	Append(inv models.ToolInvocation)
}

// Authorizer resolves approval decisions for mutating calls. The concrete
// implementation is the approval gate; it lives behind this interface so the
// registry does not depend on the gate package.
type Authorizer interface {
	// Authorize returns once a decision exists. For critical targets this
	// blocks until a human answers or the timeout denies the request. The
	// returned request always carries a terminal decision; an error means
	// the wait itself was interrupted.
	Authorize(ctx context.Context, ec *ExecContext, tool *Tool, args map[string]any) (*models.ApprovalRequest, error)
}

// ExecContext carries per-invocation state from the pipeline into tool
// handlers and the approval gate.
type ExecContext struct {
	// IncidentID owns every invocation and approval this context produces.
	IncidentID string

	// Stage is the pipeline stage issuing the call.
	Stage models.StageName

	// Severity is the owning incident's severity, shown in approval prompts.
	Severity string

	// DryRun skips execution of approved mutations and records them as
	// outcome dryrun.
	DryRun bool

	// ToolTimeout bounds a single handler call. Zero means no per-call
	// bound beyond the incident deadline on ctx.
	ToolTimeout time.Duration

	// Sink receives each completed invocation. May be nil in tests.
	Sink InvocationSink

	// Locks serialises mutations per (family, target). Handlers that hit a
	// shared resource lock it for the duration of the external call.
	Locks *KeyedMutex
}
