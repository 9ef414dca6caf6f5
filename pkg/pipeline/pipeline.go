// Package pipeline owns the incident lifecycle: intake and fingerprint
// dedup, the bounded worker pool, the sequential four-stage state machine,
// and terminal handling (store, vector memory, metrics, notification).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homelab-ops/warden/pkg/agent"
	"github.com/homelab-ops/warden/pkg/audit"
	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/incident"
	"github.com/homelab-ops/warden/pkg/llm"
	"github.com/homelab-ops/warden/pkg/metrics"
	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/tools"
)

// ErrQueueFull tells the webhook to answer 503; Alertmanager retries later.
var ErrQueueFull = errors.New("incident queue full")

// terminalWriteTimeout bounds the memory write and notification of a closed
// incident. Both run on a fresh context: the incident's own context is
// usually dead by then.
const terminalWriteTimeout = 10 * time.Second

// StageRunner executes one pipeline stage. The concrete implementation is
// agent.Runner; tests script stage outputs directly.
type StageRunner interface {
	Run(ctx context.Context, stage models.StageName, in agent.Input) models.StageOutput
}

// Memory is the slice of the memory service terminal handling writes to.
type Memory interface {
	Remember(ctx context.Context, inc *models.Incident) error
}

// Notifier posts terminal incident reports. A nil *slack.Service satisfies
// this with no-ops when Slack is disabled.
type Notifier interface {
	NotifyIncident(ctx context.Context, inc *models.Incident)
}

// run is one in-flight incident: the live record plus the lock that
// serialises worker mutations against duplicate-alert merges and
// completion-order sink appends.
type run struct {
	mu  sync.Mutex
	inc *models.Incident
}

// snapshot returns a private copy safe to read while merges continue.
func (r *run) snapshot() *models.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inc.Clone()
}

// recentEntry remembers a terminated fingerprint for the dedup window so a
// reopening incident can be linked to its predecessor.
type recentEntry struct {
	incidentID   string
	terminatedAt time.Time
}

// Pipeline runs incidents from intake to terminal state. One Pipeline per
// process; all methods are safe for concurrent use.
type Pipeline struct {
	runner   StageRunner
	store    *incident.Store
	memory   Memory
	notifier Notifier
	audit    *audit.Log
	locks    *tools.KeyedMutex
	metrics  *metrics.Metrics
	logger   *slog.Logger

	deadline    time.Duration
	dedupWindow time.Duration
	workers     int
	dryRun      bool

	queue chan *run

	mu       sync.Mutex
	inFlight map[string]*run
	recent   map[string]recentEntry
	// success_rate gauge inputs: terminal incidents since startup and how
	// many of them ended resolved or noop.
	terminals int
	successes int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New wires the pipeline. memory and notifier may be nil (disabled); the
// audit log may be nil only in tests.
func New(runner StageRunner, store *incident.Store, memory Memory, notifier Notifier, auditLog *audit.Log, locks *tools.KeyedMutex, cfg *config.PipelineConfig, dryRun bool, m *metrics.Metrics) *Pipeline {
	workers := cfg.MaxConcurrent
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	return &Pipeline{
		runner:      runner,
		store:       store,
		memory:      memory,
		notifier:    notifier,
		audit:       auditLog,
		locks:       locks,
		metrics:     m,
		logger:      slog.Default().With("component", "pipeline"),
		deadline:    cfg.Deadline(),
		dedupWindow: cfg.DedupWindow(),
		workers:     workers,
		dryRun:      dryRun,
		queue:       make(chan *run, queueSize),
		inFlight:    make(map[string]*run),
		recent:      make(map[string]recentEntry),
		stopCh:      make(chan struct{}),
	}
}

// Start spawns the worker pool and the dedup-window reaper. Safe to call
// once; duplicate calls are ignored.
func (p *Pipeline) Start(ctx context.Context) {
	if p.started {
		p.logger.Warn("Pipeline already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	p.logger.Info("Starting incident pipeline",
		"workers", p.workers,
		"queue_size", cap(p.queue),
		"deadline", p.deadline,
		"dedup_window", p.dedupWindow,
		"dry_run", p.dryRun)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reapRecent(ctx)
	}()
}

// Stop signals the workers and waits for in-flight incidents to finish.
// Queued incidents that never reached a worker are dropped; Alertmanager
// re-fires anything still broken.
func (p *Pipeline) Stop() {
	p.logger.Info("Stopping pipeline", "in_flight", p.InFlight())
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("Pipeline stopped")
}

// InFlight returns the number of incidents currently owned by the pipeline.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// QueueDepth returns the number of incidents waiting for a worker.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

// Submit routes one alert into the pipeline. Duplicates of an in-flight
// fingerprint merge into the existing incident; everything else becomes a
// new incident, linked to a predecessor that terminated within the dedup
// window. Returns ErrQueueFull when no worker can take the incident.
func (p *Pipeline) Submit(alert models.Alert) error {
	now := time.Now().UTC()

	p.mu.Lock()
	if r, ok := p.inFlight[alert.Fingerprint]; ok {
		p.mu.Unlock()
		p.merge(r, alert)
		return nil
	}

	if prev, ok := p.recent[alert.Fingerprint]; ok && now.Sub(prev.terminatedAt) <= p.dedupWindow {
		alert = linkPreviousIncident(alert, prev.incidentID)
	}

	inc := newIncident(alert, now)
	r := &run{inc: inc}
	// Reserve the fingerprint before enqueueing so an immediate duplicate
	// merges instead of racing in a second incident.
	p.inFlight[alert.Fingerprint] = r
	p.mu.Unlock()

	select {
	case p.queue <- r:
	default:
		p.mu.Lock()
		delete(p.inFlight, alert.Fingerprint)
		p.mu.Unlock()
		return ErrQueueFull
	}

	p.store.Put(inc)
	p.metrics.IncidentAccepted()
	p.metrics.QueueDepth.Inc()
	p.logger.Info("Incident accepted",
		"incident_id", inc.ID,
		"fingerprint", inc.Fingerprint,
		"alert", inc.Alert.Name(),
		"severity", inc.Severity)
	return nil
}

// merge folds a duplicate alert into the in-flight incident's bounded ring.
func (p *Pipeline) merge(r *run, alert models.Alert) {
	r.mu.Lock()
	r.inc.Alerts = append(r.inc.Alerts, alert)
	if len(r.inc.Alerts) > models.MaxMergedAlerts {
		r.inc.Alerts = r.inc.Alerts[len(r.inc.Alerts)-models.MaxMergedAlerts:]
	}
	id, n := r.inc.ID, len(r.inc.Alerts)
	p.store.Put(r.inc)
	r.mu.Unlock()

	p.logger.Debug("Duplicate alert merged", "incident_id", id, "alerts", n)
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker", id)
	logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Worker stopped, context cancelled")
			return
		case <-p.stopCh:
			logger.Debug("Worker stopped")
			return
		case r := <-p.queue:
			p.metrics.QueueDepth.Dec()
			p.process(ctx, r)
		}
	}
}

// reapRecent prunes terminated fingerprints that fell out of the dedup
// window so the map does not grow with alert cardinality.
func (p *Pipeline) reapRecent(ctx context.Context) {
	interval := p.dedupWindow
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.dedupWindow)
			p.mu.Lock()
			for fp, e := range p.recent {
				if e.terminatedAt.Before(cutoff) {
					delete(p.recent, fp)
				}
			}
			p.mu.Unlock()
		}
	}
}

// process drives one incident through the state machine. It runs on a
// single worker goroutine; the incident deadline lives on ctx from here on.
func (p *Pipeline) process(ctx context.Context, r *run) {
	snap := r.snapshot()
	logger := p.logger.With("incident_id", snap.ID, "fingerprint", snap.Fingerprint)

	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	sink := &invocationSink{run: r, audit: p.audit, logger: logger}
	cost := &costSink{run: r}

	// An alert that arrives already resolved skips straight to reporting.
	if snap.Alert.Status == models.AlertResolved {
		logger.Info("Alert arrived resolved, skipping to communicator")
		p.transition(r, models.StatusNotifying)
		out := p.runStage(ctx, r, models.StageCommunicator, sink, cost)
		if stageFatal(out) {
			p.fail(r, logger, p.failureReason(out))
			return
		}
		p.finalize(r, logger, models.StatusResolved, models.OutcomeNoop, out.Verdict)
		return
	}

	p.transition(r, models.StatusDiagnosing)
	monitor := p.runStage(ctx, r, models.StageMonitor, sink, cost)
	if stageFatal(monitor) {
		p.fail(r, logger, p.failureReason(monitor))
		return
	}

	analyst := p.runStage(ctx, r, models.StageAnalyst, sink, cost)
	if stageFatal(analyst) {
		p.fail(r, logger, p.failureReason(analyst))
		return
	}

	benign := agent.IsBenignVerdict(analyst.Verdict)
	denied := false
	if benign {
		logger.Info("Analyst classified the incident benign, skipping remediation")
	} else {
		p.transition(r, models.StatusRemediating)
		healer := p.runStage(ctx, r, models.StageHealer, sink, cost)
		if stageFatal(healer) {
			p.fail(r, logger, p.failureReason(healer))
			return
		}
		denied = healer.HasError(models.ErrorKindDenied) || healer.HasError(models.ErrorKindAutoRejected)
	}

	p.transition(r, models.StatusNotifying)
	comm := p.runStage(ctx, r, models.StageCommunicator, sink, cost)
	if stageFatal(comm) {
		p.fail(r, logger, p.failureReason(comm))
		return
	}

	switch {
	case denied:
		// A refused remediation on a non-benign incident goes to a human.
		p.finalize(r, logger, models.StatusEscalated, models.OutcomeEscalated, comm.Verdict)
	case benign:
		p.finalize(r, logger, models.StatusResolved, models.OutcomeNoop, comm.Verdict)
	default:
		p.finalize(r, logger, models.StatusResolved, models.OutcomeResolved, comm.Verdict)
	}
}

// runStage snapshots the incident for the runner and appends the stage
// output to the live record.
func (p *Pipeline) runStage(ctx context.Context, r *run, stage models.StageName, sink tools.InvocationSink, cost llm.CostSink) models.StageOutput {
	in := agent.Input{
		Incident: r.snapshot(),
		DryRun:   p.dryRun,
		Sink:     sink,
		Locks:    p.locks,
		Cost:     cost,
	}
	out := p.runner.Run(ctx, stage, in)

	r.mu.Lock()
	r.inc.StageOutputs = append(r.inc.StageOutputs, out)
	p.store.Put(r.inc)
	r.mu.Unlock()
	return out
}

// stageFatal reports whether a stage ended without any verdict. Budget trips
// and degraded fallbacks set a verdict and keep the incident moving; only a
// stage with nothing to hand onward stops it.
func stageFatal(out models.StageOutput) bool {
	return strings.TrimSpace(out.Verdict) == ""
}

// failureReason picks the operator-facing one-liner for a fatal stage.
func (p *Pipeline) failureReason(out models.StageOutput) string {
	switch {
	case out.HasError(models.ErrorKindDeadline):
		return fmt.Sprintf("incident deadline (%s) exceeded during the %s stage", p.deadline, out.Stage)
	case out.HasError(models.ErrorKindLLMUnavailable):
		return fmt.Sprintf("LLM unavailable during the %s stage", out.Stage)
	case len(out.Errors) > 0:
		return fmt.Sprintf("%s stage failed: %s", out.Stage, out.Errors[len(out.Errors)-1].Message)
	default:
		return fmt.Sprintf("%s stage returned no verdict", out.Stage)
	}
}

func (p *Pipeline) fail(r *run, logger *slog.Logger, reason string) {
	logger.Error("Incident failed", "reason", reason)
	p.finalize(r, logger, models.StatusFailed, models.OutcomeFailed, reason)
}

// transition moves the incident to a non-terminal status and republishes it
// to the store.
func (p *Pipeline) transition(r *run, status models.Status) {
	r.mu.Lock()
	r.inc.Status = status
	p.store.Put(r.inc)
	r.mu.Unlock()
}

// finalize closes the incident: terminal status and outcome, store update,
// fingerprint release into the dedup window, metrics, memory write, and the
// operator notification. The notification goes out last so it reports the
// exact record that was persisted.
func (p *Pipeline) finalize(r *run, logger *slog.Logger, status models.Status, outcome models.Outcome, summary string) {
	now := time.Now().UTC()

	r.mu.Lock()
	r.inc.Status = status
	r.inc.Outcome = outcome
	if s := strings.TrimSpace(summary); s != "" {
		r.inc.Summary = s
	}
	r.inc.ClosedAt = &now
	p.store.Put(r.inc)
	snap := r.inc.Clone()
	r.mu.Unlock()

	p.mu.Lock()
	delete(p.inFlight, snap.Fingerprint)
	p.recent[snap.Fingerprint] = recentEntry{incidentID: snap.ID, terminatedAt: now}
	p.terminals++
	if outcome == models.OutcomeResolved || outcome == models.OutcomeNoop {
		p.successes++
	}
	// Set under the lock so concurrent finalizes cannot publish rates out
	// of order.
	p.metrics.SuccessRate.Set(float64(p.successes) / float64(p.terminals))
	p.mu.Unlock()

	p.metrics.IncidentFinished(snap.Duration().Seconds(), snap.LLMCost.TokensIn+snap.LLMCost.TokensOut)

	p.remember(snap, logger)

	if p.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
		p.notifier.NotifyIncident(ctx, snap)
		cancel()
	}

	logger.Info("Incident closed",
		"status", status,
		"outcome", outcome,
		"duration", snap.Duration().Round(time.Millisecond),
		"tool_calls", len(snap.ToolsUsed),
		"tokens", snap.LLMCost.TokensIn+snap.LLMCost.TokensOut,
		"cost_usd", snap.LLMCost.USD)
}

// remember writes the closed incident to vector memory. Failure only logs:
// memory is advisory and must never block incident closure.
func (p *Pipeline) remember(snap *models.Incident, logger *slog.Logger) {
	if p.memory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	if err := p.memory.Remember(ctx, snap); err != nil {
		logger.Error("Failed to write incident to memory", "error", err)
	}
}

func newIncident(alert models.Alert, now time.Time) *models.Incident {
	return &models.Incident{
		ID:          uuid.NewString(),
		Fingerprint: alert.Fingerprint,
		ReceivedAt:  now,
		Status:      models.StatusAccepted,
		Severity:    alert.Severity,
		Alert:       alert,
		Alerts:      []models.Alert{alert},
	}
}

// linkPreviousIncident returns a copy of the alert annotated with the id of
// the incident that terminated within the dedup window.
func linkPreviousIncident(alert models.Alert, prevID string) models.Alert {
	annotations := make(map[string]string, len(alert.Annotations)+1)
	for k, v := range alert.Annotations {
		annotations[k] = v
	}
	annotations[models.AnnotationPreviousIncident] = prevID
	alert.Annotations = annotations
	return alert
}

// invocationSink appends completed tool calls to the incident in completion
// order and mirrors each into the audit log before the invocation returns
// to the agent loop.
type invocationSink struct {
	run    *run
	audit  *audit.Log
	logger *slog.Logger
}

func (s *invocationSink) Append(inv models.ToolInvocation) {
	s.run.mu.Lock()
	s.run.inc.ToolsUsed = append(s.run.inc.ToolsUsed, inv)
	incidentID := s.run.inc.ID
	s.run.mu.Unlock()

	if s.audit == nil {
		return
	}
	// The audit write must survive an already-cancelled incident context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.audit.Append(ctx, models.AuditEntry{
		IncidentID: incidentID,
		ApprovalID: inv.ApprovalID,
		Tool:       inv.Name,
		Args:       inv.Args,
		Outcome:    string(inv.Outcome),
	})
	if err != nil {
		s.logger.Error("Failed to audit tool invocation", "tool", inv.Name, "error", err)
	}
}

// costSink accumulates LLM spend onto the incident.
type costSink struct {
	run *run
}

func (c *costSink) AddCost(usage llm.Usage, usd float64) {
	c.run.mu.Lock()
	defer c.run.mu.Unlock()
	c.run.inc.LLMCost.TokensIn += usage.PromptTokens
	c.run.inc.LLMCost.TokensOut += usage.CompletionTokens
	c.run.inc.LLMCost.USD += usd
}
