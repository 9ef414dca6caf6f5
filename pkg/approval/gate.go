// Package approval implements the human sign-off gate for mutating tools.
// The gate turns a synchronous Authorize call into an out-of-band prompt on
// the chat channel and blocks the invoking stage until a decision exists.
// Silence denies: timeouts, cancellation, and channel failures all resolve
// to a rejection.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homelab-ops/warden/pkg/audit"
	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/masking"
	"github.com/homelab-ops/warden/pkg/metrics"
	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/tools"
)

// Channel carries approval traffic to the humans watching the approval
// channel. Implemented by the Slack service; a nil channel is rejected at
// construction because a gate that cannot ask must not pretend it can.
type Channel interface {
	// PostApprovalPrompt publishes one request. An error here resolves the
	// request as errored (denied).
	PostApprovalPrompt(ctx context.Context, req *models.ApprovalRequest) error

	// PostApprovalReminder nudges the channel about a still-pending request.
	// Best effort; failures are logged and do not affect the decision.
	PostApprovalReminder(ctx context.Context, req *models.ApprovalRequest, remaining time.Duration) error
}

type response struct {
	approved bool
	decider  string
}

// Gate is the concrete tools.Authorizer. One instance serves all pipelines;
// the waiter table correlates inbound APPROVE/REJECT commands with blocked
// Authorize calls by approval id.
type Gate struct {
	cfg      *config.ApprovalConfig
	critical *config.CriticalTargets
	channel  Channel
	audit    *audit.Log
	masker   *masking.Service
	metrics  *metrics.Metrics

	// TargetMutex serialises mutating handlers per (family, target) key.
	// Handlers reach it through ExecContext.Locks.
	TargetMutex *tools.KeyedMutex

	mu      sync.Mutex
	waiters map[string]chan response
}

var _ tools.Authorizer = (*Gate)(nil)

// NewGate wires the approval gate. The audit log is mandatory: decisions
// that cannot be recorded must not be made silently.
func NewGate(cfg *config.ApprovalConfig, critical *config.CriticalTargets, channel Channel, auditLog *audit.Log, masker *masking.Service, m *metrics.Metrics) (*Gate, error) {
	if channel == nil {
		return nil, fmt.Errorf("approval gate requires a channel")
	}
	if auditLog == nil {
		return nil, fmt.Errorf("approval gate requires an audit log")
	}
	return &Gate{
		cfg:         cfg,
		critical:    critical,
		channel:     channel,
		audit:       auditLog,
		masker:      masker,
		metrics:     m,
		TargetMutex: tools.NewKeyedMutex(),
		waiters:     make(map[string]chan response),
	}, nil
}

// Authorize resolves one mutating invocation. Dry-run and non-critical calls
// come back auto-approved without consulting a human; critical targets block
// until a decision, the timeout, or ctx cancellation. The returned request
// always carries a terminal decision.
func (g *Gate) Authorize(ctx context.Context, ec *tools.ExecContext, tool *tools.Tool, args map[string]any) (*models.ApprovalRequest, error) {
	req := &models.ApprovalRequest{
		IncidentID:  ec.IncidentID,
		Tool:        tool.Name,
		Args:        g.masker.MaskArgs(args),
		Severity:    promptSeverity(ec.Severity),
		RequestedAt: time.Now().UTC(),
		Decision:    models.DecisionPending,
	}

	if ec.DryRun {
		return g.decide(req, models.DecisionAutoApproved, models.ApproverAutoDryRun), nil
	}
	if !g.isCritical(tool, args) {
		return g.decide(req, models.DecisionAutoApproved, models.ApproverAutoNonCritical), nil
	}
	return g.await(ctx, req, g.timeoutFor(tool))
}

// Resolve delivers a human decision for a pending request. It reports
// whether the id matched a waiter; unknown and already-decided ids return
// false so the listener can tell the human instead of silently dropping the
// command.
func (g *Gate) Resolve(id string, approved bool, decider string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.waiters[id]
	if !ok {
		return false
	}
	// Removing under the lock makes a second decision for the same id a
	// no-op; the buffered send can never block.
	delete(g.waiters, id)
	ch <- response{approved: approved, decider: decider}
	return true
}

// Pending returns the ids of requests still waiting on a human.
func (g *Gate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.waiters))
	for id := range g.waiters {
		ids = append(ids, id)
	}
	return ids
}

// await posts the prompt and blocks until a decision, the timeout, or ctx
// cancellation. Exactly one reminder goes out at half the timeout.
func (g *Gate) await(ctx context.Context, req *models.ApprovalRequest, timeout time.Duration) (*models.ApprovalRequest, error) {
	req.ID = uuid.New().String()
	req.TimeoutAt = req.RequestedAt.Add(timeout)

	ch := make(chan response, 1)
	g.mu.Lock()
	g.waiters[req.ID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.waiters, req.ID)
		g.mu.Unlock()
	}()

	if err := g.channel.PostApprovalPrompt(ctx, req); err != nil {
		slog.Error("Failed to post approval prompt",
			"approval_id", req.ID,
			"incident_id", req.IncidentID,
			"tool", req.Tool,
			"error", err)
		return g.decide(req, models.DecisionErrored, models.ApproverAutoError), nil
	}

	slog.Info("Approval requested",
		"approval_id", req.ID,
		"incident_id", req.IncidentID,
		"tool", req.Tool,
		"severity", req.Severity,
		"timeout_at", req.TimeoutAt)

	deadline := time.NewTimer(time.Until(req.TimeoutAt))
	defer deadline.Stop()
	reminder := time.NewTimer(timeout / 2)
	defer reminder.Stop()

	for {
		select {
		case resp := <-ch:
			if resp.approved {
				return g.decide(req, models.DecisionApproved, resp.decider), nil
			}
			return g.decide(req, models.DecisionRejected, resp.decider), nil

		case <-reminder.C:
			remaining := time.Until(req.TimeoutAt)
			if err := g.channel.PostApprovalReminder(ctx, req, remaining); err != nil {
				slog.Warn("Failed to post approval reminder",
					"approval_id", req.ID,
					"error", err)
			}

		case <-deadline.C:
			if resp, ok := g.lateResponse(req.ID, ch); ok {
				// The decision landed as the clock ran out; honor it.
				if resp.approved {
					return g.decide(req, models.DecisionApproved, resp.decider), nil
				}
				return g.decide(req, models.DecisionRejected, resp.decider), nil
			}
			return g.decide(req, models.DecisionAutoRejected, models.ApproverAutoTimeout), nil

		case <-ctx.Done():
			g.decide(req, models.DecisionAutoRejected, models.ApproverAutoCancelled)
			return req, ctx.Err()
		}
	}
}

// lateResponse withdraws the waiter entry and drains a decision that raced
// the timeout. Resolve sends under the table lock, so if the entry is
// already gone the response is guaranteed to sit in the buffer.
func (g *Gate) lateResponse(id string, ch chan response) (response, bool) {
	g.mu.Lock()
	_, present := g.waiters[id]
	delete(g.waiters, id)
	g.mu.Unlock()

	if present {
		return response{}, false
	}
	select {
	case resp := <-ch:
		return resp, true
	default:
		return response{}, false
	}
}

// decide finalises the request, records the metric, and appends the audit
// entry. Append blocks until the entry is on disk, so every caller returning
// a decision knows its audit record precedes whatever the handler does next.
func (g *Gate) decide(req *models.ApprovalRequest, decision models.Decision, approver string) *models.ApprovalRequest {
	now := time.Now().UTC()
	req.Decision = decision
	req.DecidedAt = &now
	req.DeciderRef = approver

	if g.metrics != nil {
		g.metrics.RecordApproval(decision)
	}

	// The audit write must survive an already-cancelled incident context.
	auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := g.audit.Append(auditCtx, models.AuditEntry{
		TS:         now,
		IncidentID: req.IncidentID,
		ApprovalID: req.ID,
		Tool:       req.Tool,
		Args:       req.Args,
		Outcome:    string(decision),
		Approver:   approver,
	})
	if err != nil {
		slog.Error("Failed to append audit entry",
			"approval_id", req.ID,
			"incident_id", req.IncidentID,
			"tool", req.Tool,
			"error", err)
	}

	slog.Info("Approval decided",
		"approval_id", req.ID,
		"incident_id", req.IncidentID,
		"tool", req.Tool,
		"decision", decision,
		"approver", approver)
	return req
}

// timeoutFor returns the effective approval wait for a tool. The configured
// default is already clamped at load time; a per-tool override only needs
// the hard cap.
func (g *Gate) timeoutFor(tool *tools.Tool) time.Duration {
	timeout := g.cfg.Timeout()
	if tool.ApprovalTimeout > 0 {
		timeout = tool.ApprovalTimeout
	}
	if max := time.Duration(config.MaxApprovalTimeoutSeconds) * time.Second; timeout > max {
		timeout = max
	}
	return timeout
}

// isCritical matches the invocation target against the configured table for
// the tool's family. Only mutate_critical_candidate tools can be critical;
// an unlisted or missing target is not.
func (g *Gate) isCritical(tool *tools.Tool, args map[string]any) bool {
	if tool.Risk != tools.RiskMutateCriticalCandidate || g.critical == nil {
		return false
	}

	family := tool.Family
	if tool.TargetFamily != nil {
		if f := tool.TargetFamily(args); f != "" {
			family = f
		}
	}

	var listed []string
	switch family {
	case tools.FamilyLXC:
		listed = g.critical.Hypervisor.LXC.IDs
	case tools.FamilyDatabases:
		listed = g.critical.Databases.Names
	case tools.FamilyContainers:
		listed = g.critical.Containers.Names
	default:
		return false
	}
	if len(listed) == 0 {
		return false
	}

	for _, target := range targetCandidates(args) {
		for _, name := range listed {
			if target == name {
				return true
			}
		}
	}
	return false
}

// targetCandidates extracts the argument values that may name the mutation
// target. Numeric ids are normalised to their decimal form so YAML ids and
// JSON numbers compare equal.
func targetCandidates(args map[string]any) []string {
	var out []string
	for _, key := range []string{"target", "name", "id", "vmid", "container", "database", "service"} {
		v, ok := args[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				out = append(out, val)
			}
		case float64:
			out = append(out, strconv.FormatFloat(val, 'f', -1, 64))
		case int:
			out = append(out, strconv.Itoa(val))
		}
	}
	return out
}

// promptSeverity maps an incident severity onto the prompt badge scale.
func promptSeverity(severity string) models.ApprovalSeverity {
	switch severity {
	case "critical":
		return models.ApprovalSeverityCritical
	case "warning":
		return models.ApprovalSeverityWarning
	default:
		return models.ApprovalSeverityInfo
	}
}
