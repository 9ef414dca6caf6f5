package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/homelab-ops/warden/pkg/masking"
	"github.com/homelab-ops/warden/pkg/metrics"
	"github.com/homelab-ops/warden/pkg/models"
)

var (
	// ErrUnknownTool is returned for invocations of unregistered names.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrBadArgs is returned when arguments do not match the tool schema.
	ErrBadArgs = errors.New("invalid tool arguments")
	// ErrDuplicateTool is returned when registering a name twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

// Result is the outcome of one tool invocation as fed back to the agent
// loop. Content has already been masked and clipped; Invocation is the
// audit-grade record that was appended to the incident.
type Result struct {
	Name       string
	Content    string
	IsError    bool
	Invocation models.ToolInvocation
}

// Registry holds the tool catalog and executes invocations. All tools are
// registered during startup before any incident runs, so lookup needs no
// locking.
//
// Invoke is the single entry point for running a tool: it validates
// arguments, routes mutating calls through the authorizer, executes the
// handler under the per-call timeout, and records a ToolInvocation on the
// incident via the exec context sink. Handlers receive raw arguments; the
// recorded invocation carries masked ones.
type Registry struct {
	tools      map[string]*Tool
	authorizer Authorizer
	masker     *masking.Service
	metrics    *metrics.Metrics

	// maxResultChars bounds handler output before it reaches the LLM.
	maxResultChars int
}

// NewRegistry creates an empty registry. A nil authorizer auto-approves all
// mutating calls, which is only acceptable in tests.
func NewRegistry(authorizer Authorizer, masker *masking.Service, m *metrics.Metrics) *Registry {
	return &Registry{
		tools:          make(map[string]*Tool),
		authorizer:     authorizer,
		masker:         masker,
		metrics:        m,
		maxResultChars: DefaultMaxResultTokens * charsPerToken,
	}
}

// Register adds a tool to the catalog. Must be called during startup only.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool must have a name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}
	if !t.Risk.IsValid() {
		return fmt.Errorf("tool %s has invalid risk %q", t.Name, t.Risk)
	}
	for _, p := range t.Params {
		if p.Name == "" {
			return fmt.Errorf("tool %s has a parameter without a name", t.Name)
		}
		if !p.Type.IsValid() {
			return fmt.Errorf("tool %s parameter %s has invalid type %q", t.Name, p.Name, p.Type)
		}
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}

	r.tools[t.Name] = t
	slog.Debug("Registered tool", "tool", t.Name, "risk", t.Risk, "family", t.Family)
	return nil
}

// Lookup returns the tool for a name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted tool names. Used to validate configured
// allow-lists at startup.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs one tool call end to end and always returns a usable Result,
// even on failure. The invocation record is appended to the exec context
// sink in completion order before Invoke returns.
func (r *Registry) Invoke(ctx context.Context, ec *ExecContext, name string, args map[string]any) *Result {
	inv := models.ToolInvocation{
		Name:      name,
		Args:      r.masker.MaskArgs(args),
		StartedAt: time.Now().UTC(),
	}

	tool, ok := r.tools[name]
	if !ok {
		return r.finish(ec, inv, models.InvocationError, models.ErrorKindUnknownTool,
			fmt.Sprintf("%v: %s", ErrUnknownTool, name), true)
	}

	if err := ValidateArgs(tool, args); err != nil {
		return r.finish(ec, inv, models.InvocationError, models.ErrorKindBadArgs, err.Error(), true)
	}

	if tool.Risk.Mutating() {
		if denied := r.authorize(ctx, ec, tool, args, &inv); denied != nil {
			return denied
		}
		if ec.DryRun {
			content := fmt.Sprintf("[dry run] %s accepted the arguments; no action was taken", name)
			return r.finish(ec, inv, models.InvocationDryRun, "", content, false)
		}
	}

	runCtx := ctx
	if ec.ToolTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, ec.ToolTimeout)
		defer cancel()
	}

	content, err := tool.Handler(runCtx, ec, args)
	if err != nil {
		kind := models.ErrorKindToolExecError
		if ctx.Err() != nil {
			kind = models.ErrorKindCancelled
		}
		return r.finish(ec, inv, models.InvocationError, kind, err.Error(), true)
	}
	return r.finish(ec, inv, models.InvocationOK, "", content, false)
}

// authorize routes a mutating call through the approval gate. It returns a
// terminal denied Result, or nil when execution may proceed. The gate owns
// the full decision tree: dry-run and non-critical calls come back
// auto-approved without consulting a human.
func (r *Registry) authorize(ctx context.Context, ec *ExecContext, tool *Tool, args map[string]any, inv *models.ToolInvocation) *Result {
	if r.authorizer == nil {
		return nil
	}

	req, err := r.authorizer.Authorize(ctx, ec, tool, args)
	if req != nil {
		inv.ApprovalID = req.ID
	}
	if err != nil {
		kind := models.ErrorKindAutoRejected
		if ctx.Err() != nil {
			kind = models.ErrorKindCancelled
		}
		return r.finish(ec, *inv, models.InvocationDenied, kind,
			fmt.Sprintf("approval interrupted: %v", err), true)
	}

	if req.Decision.Allows() {
		return nil
	}

	switch req.Decision {
	case models.DecisionRejected:
		return r.finish(ec, *inv, models.InvocationDenied, models.ErrorKindDenied,
			fmt.Sprintf("rejected by %s (approval %s); do not retry this action", req.DeciderRef, req.ID), true)
	default:
		// autoRejected and errored both land here; the handler never runs.
		return r.finish(ec, *inv, models.InvocationDenied, models.ErrorKindAutoRejected,
			fmt.Sprintf("approval %s was not granted in time; do not retry this action", req.ID), true)
	}
}

// finish stamps the invocation, appends it to the incident, records metrics,
// and builds the Result the agent loop feeds back to the LLM.
func (r *Registry) finish(ec *ExecContext, inv models.ToolInvocation, outcome models.InvocationOutcome, kind models.ErrorKind, content string, isError bool) *Result {
	inv.EndedAt = time.Now().UTC()
	inv.Outcome = outcome
	inv.ErrorKind = kind

	if ec != nil && ec.Sink != nil {
		ec.Sink.Append(inv)
	}
	if r.metrics != nil {
		r.metrics.RecordToolInvocation(inv.Name, outcome)
	}

	content = clipAtLineBoundary(r.masker.Mask(content), r.maxResultChars)
	return &Result{
		Name:       inv.Name,
		Content:    content,
		IsError:    isError,
		Invocation: inv,
	}
}
