package e2e

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/llm"
	"github.com/homelab-ops/warden/pkg/models"
)

// blockingProbe is an HTTP target whose handler signals arrival and then
// holds the connection until released. It pins a pipeline worker for as
// long as the test needs the incident to stay in flight.
func blockingProbe(t *testing.T) (srv *httptest.Server, started <-chan struct{}, release chan<- struct{}) {
	t.Helper()
	start := make(chan struct{}, 1)
	rel := make(chan struct{})
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start <- struct{}{}
		<-rel
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, start, rel
}

// ────────────────────────────────────────────────────────────
// Scenario: LLM outage degrades, then fails the incident
// ────────────────────────────────────────────────────────────

func TestE2E_LLMFailureFailsIncident(t *testing.T) {
	app := NewTestApp(t,
		WithScript(
			// Monitor degrades to a pass-through verdict.
			llm.ErrTurn(llm.ErrUnavailable),
			// Analyst has no safe fallback; the incident fails here.
			llm.ErrTurn(llm.ErrUnavailable),
		),
	)

	app.SubmitAlert(t, "DiskFull", "warning", "fp-outage-1")

	inc := app.WaitForTerminal(t, "fp-outage-1")
	app.WaitForNotifications(t, 1)

	assert.Equal(t, models.StatusFailed, inc.Status)
	assert.Equal(t, models.OutcomeFailed, inc.Outcome)
	assert.Equal(t, []models.StageName{models.StageMonitor, models.StageAnalyst}, stageNames(inc))
	assert.Contains(t, inc.Summary, "LLM unavailable during the analyst stage")

	// The monitor still handed a verdict onward despite the outage.
	assert.Contains(t, stageVerdict(t, inc, models.StageMonitor), "alert passed through unverified")
	assert.Zero(t, app.LLM.Remaining())

	// Operators were told about the failure.
	notifications := app.Chat.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, models.StatusFailed, notifications[0].Status)
}

// ────────────────────────────────────────────────────────────
// Scenario: duplicate alert merges into the in-flight incident
// ────────────────────────────────────────────────────────────

func TestE2E_DuplicateAlertMergesInFlight(t *testing.T) {
	probe, started, release := blockingProbe(t)

	app := NewTestApp(t,
		WithWorkers(1),
		WithScript(
			llm.ToolTurn(llm.Call("m-1", "http_probe", fmt.Sprintf(`{"url":%q}`, probe.URL))),
			llm.TextTurn("confirmed: target responded after a long stall"),
			llm.TextTurn("classification: benign\nslow response during backup; self-recovered"),
			llm.TextTurn("SlowProbe was a backup-window stall; nothing to do."),
		),
	)

	app.SubmitAlert(t, "SlowProbe", "info", "fp-dup-1")

	// The probe is inside the handler, so the incident is live in a worker.
	<-started

	// Redelivery of the same fingerprint merges instead of opening a second
	// incident.
	app.SubmitAlert(t, "SlowProbe", "info", "fp-dup-1")
	close(release)

	inc := app.WaitForTerminal(t, "fp-dup-1")
	app.WaitForNotifications(t, 1)

	assert.Equal(t, models.StatusResolved, inc.Status)
	assert.Len(t, inc.Alerts, 2, "duplicate alert should merge into the open incident")
	assert.Equal(t, 1, app.Store.Len(), "merge must not create a second incident")
	assert.Zero(t, app.LLM.Remaining())
}

// ────────────────────────────────────────────────────────────
// Scenario: full queue pushes back on the webhook
// ────────────────────────────────────────────────────────────

func TestE2E_QueueFullRejectsDelivery(t *testing.T) {
	probe, started, release := blockingProbe(t)

	app := NewTestApp(t,
		WithWorkers(1),
		WithQueueSize(1),
		WithScript(
			// First incident: pinned in the worker by the probe.
			llm.ToolTurn(llm.Call("m-1", "http_probe", fmt.Sprintf(`{"url":%q}`, probe.URL))),
			llm.TextTurn("confirmed: target recovered"),
			llm.TextTurn("classification: benign\ntransient stall"),
			llm.TextTurn("ProbeStall cleared on its own."),
			// Second incident: drained after the first completes.
			llm.TextTurn("confirmed: second target degraded"),
			llm.TextTurn("classification: benign\nsame backup window"),
			llm.TextTurn("ProbeStall on the second target cleared too."),
		),
	)

	// Occupy the only worker, then fill the one queue slot.
	app.SubmitAlert(t, "ProbeStall", "info", "fp-q-1")
	<-started
	app.SubmitAlert(t, "ProbeStall", "info", "fp-q-2")

	// No room left: the intake answers 503 so Alertmanager redelivers.
	body := app.SubmitPayload(t, firingAlert("ProbeStall", "info", "fp-q-3"), http.StatusServiceUnavailable)
	require.NotNil(t, body)
	assert.Contains(t, body["message"], "queue full")

	close(release)
	app.WaitForNotifications(t, 2)
	app.WaitForTerminal(t, "fp-q-1")
	app.WaitForTerminal(t, "fp-q-2")

	assert.Equal(t, 2, app.Store.Len(), "the rejected delivery must not leave a record behind")
	assert.Zero(t, app.LLM.Remaining())
}

// ────────────────────────────────────────────────────────────
// Scenario: dry run plans everything, mutates nothing
// ────────────────────────────────────────────────────────────

func TestE2E_DryRunSuppressesMutations(t *testing.T) {
	hook, hits := countingHook(t, http.StatusOK)

	app := NewTestApp(t,
		WithDryRun(),
		WithWebhooks(config.WebhookToolConfig{
			Name:   "home-assistant",
			URL:    hook.URL,
			Family: "containers",
		}),
		WithCriticalTargets(&config.CriticalTargets{
			Containers: config.NameTargets{Names: []string{"home-assistant"}},
		}),
		WithScript(
			llm.TextTurn("confirmed: home-assistant unresponsive"),
			llm.TextTurn("classification: actionable\nroot cause: integration deadlock"),
			llm.ToolTurn(llm.Call("h-1", "webhook_trigger", `{"name":"home-assistant"}`)),
			llm.TextTurn("dry run: would restart home-assistant via webhook"),
			llm.ToolTurn(llm.Call("c-1", "send_chat_message", `{"message":"dry run report for HomeAssistantDown"}`)),
			llm.TextTurn("dry run report for HomeAssistantDown"),
		),
	)

	app.SubmitAlert(t, "HomeAssistantDown", "critical", "fp-dry-1")

	inc := app.WaitForTerminal(t, "fp-dry-1")
	app.WaitForNotifications(t, 1)

	assert.Equal(t, models.StatusResolved, inc.Status)
	assert.Equal(t, models.OutcomeResolved, inc.Outcome)

	// Nothing actually ran: no webhook delivery, no chat post, no approval
	// prompt for the critical target.
	assert.Equal(t, int64(0), hits.Load())
	assert.Empty(t, app.Chat.Messages())
	assert.Empty(t, app.Chat.Prompts())

	webhookCalls := invocationsByTool(inc, "webhook_trigger")
	require.Len(t, webhookCalls, 1)
	assert.Equal(t, models.InvocationDryRun, webhookCalls[0].Outcome)

	chatCalls := invocationsByTool(inc, "send_chat_message")
	require.Len(t, chatCalls, 1)
	assert.Equal(t, models.InvocationDryRun, chatCalls[0].Outcome)

	// Terminal notification still goes out; it reports, it does not mutate.
	require.Len(t, app.Chat.Notifications(), 1)
}

// ────────────────────────────────────────────────────────────
// Scenario: malformed deliveries bounce, service stays up
// ────────────────────────────────────────────────────────────

func TestE2E_MalformedPayloadRejected(t *testing.T) {
	app := NewTestApp(t)

	resp, err := http.Post(app.BaseURL+"/alert", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := app.SubmitPayload(t, map[string]any{"version": "4", "status": "firing"}, http.StatusBadRequest)
	require.NotNil(t, body)
	assert.Contains(t, body["message"], "no alerts")

	payload := firingAlert("DiskFull", "warning", "fp-bad-1")
	payload["alerts"].([]map[string]any)[0]["fingerprint"] = ""
	body = app.SubmitPayload(t, payload, http.StatusBadRequest)
	require.NotNil(t, body)
	assert.Contains(t, body["message"], "fingerprint is required")

	// Bad input never reaches the pipeline or takes the service down.
	assert.Equal(t, 0, app.Store.Len())
	health := app.GetJSON(t, "/health", http.StatusOK)
	assert.Equal(t, "healthy", health["status"])
}
