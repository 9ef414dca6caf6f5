// Package e2e boots a complete warden instance per test: real registry,
// approval gate, pipeline, memory, and HTTP API, with a scripted model and
// a recording chat channel standing in for the network edges.
package e2e

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/agent"
	"github.com/homelab-ops/warden/pkg/api"
	"github.com/homelab-ops/warden/pkg/approval"
	"github.com/homelab-ops/warden/pkg/audit"
	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/incident"
	"github.com/homelab-ops/warden/pkg/llm"
	"github.com/homelab-ops/warden/pkg/masking"
	"github.com/homelab-ops/warden/pkg/memory"
	"github.com/homelab-ops/warden/pkg/metrics"
	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/pipeline"
	"github.com/homelab-ops/warden/pkg/tools"
	"github.com/homelab-ops/warden/pkg/tools/builtin"
)

// DecisionFunc decides a pending approval request immediately. Returning
// ok=false leaves the request to its timeout.
type DecisionFunc func(req *models.ApprovalRequest) (approved, ok bool)

// decisionSink is the slice of the gate the recorder needs to deliver
// decisions.
type decisionSink interface {
	Resolve(id string, approved bool, decider string) bool
}

// ChatRecorder stands in for the Slack service at every seam: the approval
// channel, the chat tool poster, and the terminal notifier. It records all
// traffic for assertions and can answer approval prompts through a
// DecisionFunc.
type ChatRecorder struct {
	mu        sync.Mutex
	sink      decisionSink
	decide    DecisionFunc
	prompts   []*models.ApprovalRequest
	reminders int
	messages  []string
	notified  []*models.Incident
}

// PostApprovalPrompt records the prompt and, when a DecisionFunc is set,
// answers it. The gate registers the waiter before posting, so deciding
// synchronously here is safe.
func (c *ChatRecorder) PostApprovalPrompt(_ context.Context, req *models.ApprovalRequest) error {
	c.mu.Lock()
	c.prompts = append(c.prompts, req)
	decide := c.decide
	sink := c.sink
	c.mu.Unlock()

	if decide != nil && sink != nil {
		if approved, ok := decide(req); ok {
			sink.Resolve(req.ID, approved, "e2e-test")
		}
	}
	return nil
}

// PostApprovalReminder counts reminders; they carry no decision.
func (c *ChatRecorder) PostApprovalReminder(_ context.Context, _ *models.ApprovalRequest, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reminders++
	return nil
}

// SendChatMessage records the text the chat tool delivered.
func (c *ChatRecorder) SendChatMessage(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
	return nil
}

// NotifyIncident records the terminal incident snapshot.
func (c *ChatRecorder) NotifyIncident(_ context.Context, inc *models.Incident) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified = append(c.notified, inc)
}

// Prompts returns the approval prompts posted so far.
func (c *ChatRecorder) Prompts() []*models.ApprovalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.ApprovalRequest(nil), c.prompts...)
}

// Messages returns the chat-tool messages posted so far.
func (c *ChatRecorder) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

// Notifications returns the terminal incident notifications so far.
func (c *ChatRecorder) Notifications() []*models.Incident {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.Incident(nil), c.notified...)
}

// Reminders returns how many approval reminders were posted.
func (c *ChatRecorder) Reminders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reminders
}

// Enabled reports the recorder as a live chat channel on /health.
func (c *ChatRecorder) Enabled() bool { return true }

func (c *ChatRecorder) bind(sink decisionSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// TestApp is one booted warden instance.
type TestApp struct {
	Config   *config.Config
	Store    *incident.Store
	Memory   *memory.Service
	Registry *tools.Registry
	Gate     *approval.Gate
	LLM      *llm.ScriptedClient
	Chat     *ChatRecorder
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
	Server   *api.Server
	BaseURL  string

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	turns           []llm.ScriptedTurn
	webhooks        []config.WebhookToolConfig
	critical        *config.CriticalTargets
	decide          DecisionFunc
	index           memory.Index
	dryRun          bool
	workers         int
	queueSize       int
	approvalSeconds int
	dimension       int
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithScript sets the LLM turns replayed in order across every stage of
// every incident the test submits.
func WithScript(turns ...llm.ScriptedTurn) TestAppOption {
	return func(c *testAppConfig) { c.turns = append(c.turns, turns...) }
}

// WithWebhooks configures named mutation webhooks for the webhook_trigger
// tool.
func WithWebhooks(hooks ...config.WebhookToolConfig) TestAppOption {
	return func(c *testAppConfig) { c.webhooks = hooks }
}

// WithCriticalTargets sets the targets that require human approval.
func WithCriticalTargets(ct *config.CriticalTargets) TestAppOption {
	return func(c *testAppConfig) { c.critical = ct }
}

// WithDecision answers approval prompts as they arrive.
func WithDecision(fn DecisionFunc) TestAppOption {
	return func(c *testAppConfig) { c.decide = fn }
}

// WithDryRun runs the pipeline in dry-run mode.
func WithDryRun() TestAppOption {
	return func(c *testAppConfig) { c.dryRun = true }
}

// WithWorkers sets the pipeline worker count.
func WithWorkers(n int) TestAppOption {
	return func(c *testAppConfig) { c.workers = n }
}

// WithQueueSize bounds the intake queue.
func WithQueueSize(n int) TestAppOption {
	return func(c *testAppConfig) { c.queueSize = n }
}

// WithApprovalTimeout sets the approval timeout in seconds.
func WithApprovalTimeout(seconds int) TestAppOption {
	return func(c *testAppConfig) { c.approvalSeconds = seconds }
}

// WithIndex injects a vector index, e.g. a pgvector index bound to a
// testcontainer. Defaults to the in-process index.
func WithIndex(index memory.Index, dimension int) TestAppOption {
	return func(c *testAppConfig) {
		c.index = index
		c.dimension = dimension
	}
}

// NewTestApp boots a warden instance. Shutdown is registered via t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		workers:         2,
		queueSize:       16,
		approvalSeconds: 30,
		dimension:       64,
	}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.critical == nil {
		tc.critical = &config.CriticalTargets{}
	}

	cfg := config.DefaultConfig()
	cfg.Approval.TimeoutSeconds = tc.approvalSeconds
	cfg.Approval.DryRun = tc.dryRun
	cfg.CriticalTargets = tc.critical
	cfg.Pipeline.DeadlineSeconds = 30
	cfg.Pipeline.MaxConcurrent = tc.workers
	cfg.Pipeline.QueueSize = tc.queueSize
	cfg.Pipeline.DedupWindowSeconds = 1
	cfg.Pipeline.StageTimeoutSeconds = 10
	cfg.Pipeline.ToolTimeoutSeconds = 5
	cfg.Memory.Backend = config.MemoryBackendInProcess
	cfg.Memory.TopK = 3
	cfg.Memory.MinScore = 0
	cfg.Embedding.Provider = config.EmbeddingProviderLocal
	cfg.Embedding.Dimension = tc.dimension
	cfg.Webhook.SharedSecret = ""
	cfg.Tools.Webhooks = tc.webhooks

	auditLog, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)

	masker := masking.NewService(cfg.Masking)
	m := metrics.NewMetrics()
	store := incident.NewStore(0)

	embedder, err := memory.NewEmbedder(cfg.Embedding, "", "")
	require.NoError(t, err)
	index := tc.index
	if index == nil {
		index = memory.NewInProcessIndex()
	}
	memoryService := memory.NewService(embedder, index, cfg.Memory, m)

	chat := &ChatRecorder{decide: tc.decide}
	gate, err := approval.NewGate(cfg.Approval, cfg.CriticalTargets, chat, auditLog, masker, m)
	require.NoError(t, err)
	chat.bind(gate)

	registry := tools.NewRegistry(gate, masker, m)
	require.NoError(t, builtin.RegisterAll(registry, builtin.Deps{
		Memory:   memoryService,
		Chat:     chat,
		Webhooks: cfg.Tools.Webhooks,
	}))

	scripted := llm.NewScriptedClient(tc.turns...)
	runner := agent.NewRunner(scripted, registry, memoryService, cfg.Pipeline, m)
	pipe := pipeline.New(runner, store, memoryService, chat, auditLog,
		gate.TargetMutex, cfg.Pipeline, tc.dryRun, m)
	pipe.Start(context.Background())

	server := api.NewServer(pipe, store, memoryService, nil, chat, m.Registry, cfg.Server, cfg.Webhook)
	ts := httptest.NewServer(server)

	t.Cleanup(func() {
		ts.Close()
		pipe.Stop()
		_ = auditLog.Close()
	})

	return &TestApp{
		Config:   cfg,
		Store:    store,
		Memory:   memoryService,
		Registry: registry,
		Gate:     gate,
		LLM:      scripted,
		Chat:     chat,
		Pipeline: pipe,
		Metrics:  m,
		Server:   server,
		BaseURL:  ts.URL,
		t:        t,
	}
}
