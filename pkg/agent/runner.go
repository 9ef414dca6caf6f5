// Package agent executes pipeline stages: it assembles the prompt for the
// stage's role, drives the LLM tool-calling loop against the registry, and
// returns an immutable StageOutput for the pipeline to copy onto the
// incident.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/llm"
	"github.com/homelab-ops/warden/pkg/metrics"
	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/tools"
)

// budgetExhaustedVerdict ends a stage whose tool or wall-clock budget
// tripped.
const budgetExhaustedVerdict = "budget exhausted"

// MemoryReader provides historical context for the Analyst prompt. Lookup
// failures are soft: the stage proceeds with no history.
type MemoryReader interface {
	Similar(ctx context.Context, alert models.Alert, k int) ([]models.ScoredRecord, error)
}

// Input carries the per-incident state a stage run needs. The incident is
// read here and mutated only by the pipeline between stages.
type Input struct {
	Incident *models.Incident

	// DryRun propagates to every mutating tool call in the stage.
	DryRun bool

	// Sink receives completed tool invocations in completion order.
	Sink tools.InvocationSink

	// Locks serialises mutations per (family, target).
	Locks *tools.KeyedMutex

	// Cost accumulates LLM token and dollar spend onto the incident. May be
	// nil in tests.
	Cost llm.CostSink
}

// Runner executes stages. One Runner serves all four roles; the stage name
// selects the preamble, allow-list, and failure policy. Stateless between
// runs and safe for concurrent use by the pipeline workers.
type Runner struct {
	llm      llm.Client
	registry *tools.Registry
	memory   MemoryReader
	metrics  *metrics.Metrics
	logger   *slog.Logger

	stageTimeout time.Duration
	toolTimeout  time.Duration
	toolBudget   int
	fanout       int
}

// NewRunner wires a stage runner. memory may be nil when no index is
// configured; the Analyst then runs without history.
func NewRunner(client llm.Client, registry *tools.Registry, memory MemoryReader, cfg *config.PipelineConfig, m *metrics.Metrics) *Runner {
	return &Runner{
		llm:          client,
		registry:     registry,
		memory:       memory,
		metrics:      m,
		logger:       slog.Default().With("component", "agent-runner"),
		stageTimeout: cfg.StageTimeout(),
		toolTimeout:  cfg.ToolTimeout(),
		toolBudget:   cfg.ToolBudget,
		fanout:       cfg.ToolFanout,
	}
}

// Run executes one stage to completion. The returned output is always
// usable: failures land in Errors with a classified kind rather than being
// returned as a Go error, and the pipeline decides what each kind means for
// the incident.
func (r *Runner) Run(ctx context.Context, stage models.StageName, in Input) models.StageOutput {
	out := models.StageOutput{Stage: stage, StartedAt: time.Now().UTC()}
	logger := r.logger.With("incident_id", in.Incident.ID, "stage", stage)

	stageCtx, cancel := context.WithTimeout(ctx, r.stageTimeout)
	defer cancel()

	toolset := r.allowed(stage)
	history := r.history(stageCtx, stage, in.Incident, &out, logger)

	ec := &tools.ExecContext{
		IncidentID:  in.Incident.ID,
		Stage:       stage,
		Severity:    in.Incident.Severity,
		DryRun:      in.DryRun,
		ToolTimeout: r.toolTimeout,
		Sink:        in.Sink,
		Locks:       in.Locks,
	}

	system := preambleFor(stage)
	messages := []llm.Message{{
		Role:    llm.RoleUser,
		Content: buildUserMessage(stage, in.Incident, history, toolset),
	}}
	defs := toolDefinitions(toolset)
	allowed := make(map[string]bool, len(toolset))
	for _, t := range toolset {
		allowed[t.Name] = true
	}

	for {
		turn, err := r.llm.Run(stageCtx, system, messages, defs, llm.Options{Cost: in.Cost})
		if err != nil {
			return r.turnFailed(ctx, stageCtx, stage, in, ec, out, err, logger)
		}

		// A reply without tool calls is the stage verdict.
		if turn.Terminal() {
			out.Verdict = strings.TrimSpace(turn.Content)
			return r.finish(out, logger)
		}

		if out.ToolCallCount+len(turn.ToolCalls) > r.toolBudget {
			out.Verdict = budgetExhaustedVerdict
			out.Errors = append(out.Errors, models.StageError{
				Kind:    models.ErrorKindBudgetExceeded,
				Message: fmt.Sprintf("tool budget %d exhausted with %d call(s) pending", r.toolBudget, len(turn.ToolCalls)),
			})
			return r.finish(out, logger)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   turn.Content,
			ToolCalls: turn.ToolCalls,
		})

		results := r.dispatch(stageCtx, ec, turn.ToolCalls, allowed)
		out.ToolCallCount += len(turn.ToolCalls)
		for i, res := range results {
			if res.IsError {
				out.Errors = append(out.Errors, models.StageError{
					Kind:    errorKindOf(res),
					Message: res.Content,
				})
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    toolMessage(res),
				ToolCallID: turn.ToolCalls[i].ID,
			})
		}
	}
}

// turnFailed classifies a failed LLM call. Order matters: a dead incident
// context explains every downstream error, and an expired stage context is
// the wall-clock budget, not an LLM problem.
func (r *Runner) turnFailed(parent, stageCtx context.Context, stage models.StageName, in Input, ec *tools.ExecContext, out models.StageOutput, err error, logger *slog.Logger) models.StageOutput {
	switch {
	case parent.Err() != nil:
		out.Errors = append(out.Errors, models.StageError{
			Kind:    models.ErrorKindDeadline,
			Message: "incident deadline reached",
		})
	case stageCtx.Err() != nil:
		out.Verdict = budgetExhaustedVerdict
		out.Errors = append(out.Errors, models.StageError{
			Kind:    models.ErrorKindBudgetExceeded,
			Message: fmt.Sprintf("stage wall clock %s exhausted", r.stageTimeout),
		})
	case errors.Is(err, llm.ErrUnavailable):
		return r.llmFallback(stageCtx, stage, in, ec, out, err, logger)
	default:
		out.Errors = append(out.Errors, models.StageError{
			Kind:    models.ErrorKindInternal,
			Message: err.Error(),
		})
	}
	return r.finish(out, logger)
}

// llmFallback applies the per-role policy for an unavailable model: Monitor
// and Communicator degrade to deterministic output, Analyst and Healer
// cannot safely proceed and leave the failure for the pipeline.
func (r *Runner) llmFallback(ctx context.Context, stage models.StageName, in Input, ec *tools.ExecContext, out models.StageOutput, cause error, logger *slog.Logger) models.StageOutput {
	out.Errors = append(out.Errors, models.StageError{
		Kind:    models.ErrorKindLLMUnavailable,
		Message: cause.Error(),
	})

	switch stage {
	case models.StageMonitor:
		out.Verdict = fallbackMonitorVerdict(in.Incident)
		logger.Warn("LLM unavailable, monitor passed the alert through unverified")
	case models.StageCommunicator:
		out.Verdict = r.sendFallbackReport(ctx, in, ec, &out)
		logger.Warn("LLM unavailable, communicator sent a deterministic report")
	default:
		logger.Error("LLM unavailable, stage cannot proceed", "error", cause)
	}
	return r.finish(out, logger)
}

// sendFallbackReport posts the deterministic incident report through the
// chat tool so operators still hear about the incident.
func (r *Runner) sendFallbackReport(ctx context.Context, in Input, ec *tools.ExecContext, out *models.StageOutput) string {
	report := fallbackReport(in.Incident)

	chat := r.allowed(models.StageCommunicator)
	if len(chat) == 0 {
		return report
	}
	res := r.registry.Invoke(ctx, ec, chat[0].Name, map[string]any{"message": report})
	out.ToolCallCount++
	if res.IsError {
		out.Errors = append(out.Errors, models.StageError{
			Kind:    errorKindOf(res),
			Message: res.Content,
		})
	}
	return report
}

// history fetches similar past incidents for the Analyst. Failures are
// recorded as a soft warning and the stage proceeds with no history.
func (r *Runner) history(ctx context.Context, stage models.StageName, inc *models.Incident, out *models.StageOutput, logger *slog.Logger) []models.ScoredRecord {
	if stage != models.StageAnalyst || r.memory == nil {
		return nil
	}

	records, err := r.memory.Similar(ctx, inc.Alert, 0)
	if err != nil {
		out.Errors = append(out.Errors, models.StageError{
			Kind:    models.ErrorKindMemoryUnavailable,
			Message: err.Error(),
		})
		logger.Warn("Memory lookup failed, analyst proceeds without history", "error", err)
		return nil
	}
	return records
}

// dispatch executes one turn's tool calls with bounded fan-out. Results come
// back in request order so the conversation stays deterministic; the
// invocation sink sees completion order.
func (r *Runner) dispatch(ctx context.Context, ec *tools.ExecContext, calls []llm.ToolCall, allowed map[string]bool) []*tools.Result {
	results := make([]*tools.Result, len(calls))

	sem := make(chan struct{}, r.fanout)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc llm.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = &tools.Result{
					Name:    tc.Name,
					Content: "cancelled before execution",
					IsError: true,
					Invocation: models.ToolInvocation{
						Name:      tc.Name,
						ErrorKind: models.ErrorKindCancelled,
					},
				}
				return
			}
			results[idx] = r.invokeCall(ctx, ec, tc, allowed)
		}(i, call)
	}
	wg.Wait()
	return results
}

// invokeCall parses and routes one tool call. Allow-list violations and
// malformed argument JSON never reach the registry; they come back as error
// results the model can react to.
func (r *Runner) invokeCall(ctx context.Context, ec *tools.ExecContext, call llm.ToolCall, allowed map[string]bool) *tools.Result {
	if !allowed[call.Name] {
		return &tools.Result{
			Name:    call.Name,
			Content: fmt.Sprintf("tool %s is not available to the %s stage", call.Name, ec.Stage),
			IsError: true,
			Invocation: models.ToolInvocation{
				Name:      call.Name,
				ErrorKind: models.ErrorKindUnknownTool,
			},
		}
	}

	args, err := parseArgs(call.Arguments)
	if err != nil {
		return &tools.Result{
			Name:    call.Name,
			Content: fmt.Sprintf("invalid tool arguments: %v", err),
			IsError: true,
			Invocation: models.ToolInvocation{
				Name:      call.Name,
				ErrorKind: models.ErrorKindBadArgs,
			},
		}
	}

	return r.registry.Invoke(ctx, ec, call.Name, args)
}

// allowed filters the registry catalog to the stage's allow-list.
func (r *Runner) allowed(stage models.StageName) []*tools.Tool {
	var out []*tools.Tool
	for _, t := range r.registry.List() {
		if roleAllows(stage, t) {
			out = append(out, t)
		}
	}
	return out
}

func (r *Runner) finish(out models.StageOutput, logger *slog.Logger) models.StageOutput {
	out.EndedAt = time.Now().UTC()
	if r.metrics != nil {
		r.metrics.RecordStage(out.Stage, out.Duration().Seconds())
	}
	logger.Info("Stage finished",
		"duration", out.Duration().Round(time.Millisecond),
		"tool_calls", out.ToolCallCount,
		"errors", len(out.Errors))
	return out
}

func toolDefinitions(list []*tools.Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema(),
		})
	}
	return defs
}

func parseArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// toolMessage renders a result for the conversation. Errors carry a marker
// and kind so the model can pick an alternative instead of retrying blindly.
func toolMessage(res *tools.Result) string {
	if !res.IsError {
		return res.Content
	}
	return fmt.Sprintf("ERROR (%s): %s", errorKindOf(res), res.Content)
}

func errorKindOf(res *tools.Result) models.ErrorKind {
	if res.Invocation.ErrorKind != "" {
		return res.Invocation.ErrorKind
	}
	return models.ErrorKindToolExecError
}
