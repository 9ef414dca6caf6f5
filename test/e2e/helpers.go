package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/homelab-ops/warden/pkg/models"
)

const (
	waitTimeout  = 15 * time.Second
	waitInterval = 20 * time.Millisecond
)

// firingAlert builds a single-alert Alertmanager v4 webhook payload.
func firingAlert(name, severity, fingerprint string) map[string]any {
	return alertPayload("firing", name, severity, fingerprint)
}

// resolvedAlert builds a payload whose alert already resolved upstream.
func resolvedAlert(name, severity, fingerprint string) map[string]any {
	payload := alertPayload("resolved", name, severity, fingerprint)
	alert := payload["alerts"].([]map[string]any)[0]
	alert["endsAt"] = time.Now().UTC().Format(time.RFC3339)
	return payload
}

func alertPayload(status, name, severity, fingerprint string) map[string]any {
	return map[string]any{
		"version":  "4",
		"groupKey": "{}:{alertname=\"" + name + "\"}",
		"status":   status,
		"receiver": "warden",
		"alerts": []map[string]any{
			{
				"status": status,
				"labels": map[string]string{
					"alertname": name,
					"severity":  severity,
					"instance":  "nas.local:9100",
				},
				"annotations": map[string]string{
					"summary": name + " on nas.local",
				},
				"startsAt":    time.Now().UTC().Format(time.RFC3339),
				"fingerprint": fingerprint,
			},
		},
	}
}

// SubmitAlert posts a firing alert and requires it accepted.
func (app *TestApp) SubmitAlert(t *testing.T, name, severity, fingerprint string) {
	t.Helper()
	app.SubmitPayload(t, firingAlert(name, severity, fingerprint), http.StatusAccepted)
}

// SubmitPayload posts a webhook body and checks the status code. The parsed
// JSON response is returned when there is one.
func (app *TestApp) SubmitPayload(t *testing.T, payload any, wantStatus int) map[string]any {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(app.BaseURL+"/alert", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "unexpected status, body: %s", body)

	var parsed map[string]any
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		return parsed
	}
	return nil
}

// WaitForTerminal polls the store until the fingerprint's incident reaches
// a terminal status, then returns the full record.
func (app *TestApp) WaitForTerminal(t *testing.T, fingerprint string) *models.Incident {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if inc, ok := app.findIncident(fingerprint); ok && inc.Status.IsTerminal() {
			return inc
		}
		time.Sleep(waitInterval)
	}
	t.Fatalf("incident %s did not reach a terminal status within %s", fingerprint, waitTimeout)
	return nil
}

// WaitForNotifications blocks until n terminal notifications were posted.
// Notification is the last step of finalization, so once it fires the
// memory write and metrics for that incident are visible too.
func (app *TestApp) WaitForNotifications(t *testing.T, n int) {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if len(app.Chat.Notifications()) >= n {
			return
		}
		time.Sleep(waitInterval)
	}
	t.Fatalf("expected %d notification(s) within %s, got %d", n, waitTimeout, len(app.Chat.Notifications()))
}

// findIncident scans the store for the newest incident with the fingerprint.
func (app *TestApp) findIncident(fingerprint string) (*models.Incident, bool) {
	page, err := app.Store.List(100, "")
	if err != nil {
		return nil, false
	}
	for _, item := range page.Items {
		if item.Fingerprint == fingerprint {
			return app.Store.Get(item.ID)
		}
	}
	return nil, false
}

// GetJSON fetches a path and decodes the JSON body.
func (app *TestApp) GetJSON(t *testing.T, path string, wantStatus int) map[string]any {
	t.Helper()

	resp, err := http.Get(app.BaseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "unexpected status, body: %s", body)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(body, &parsed), "body: %s", body)
	return parsed
}

// MetricsBody fetches the Prometheus exposition text.
func (app *TestApp) MetricsBody(t *testing.T) string {
	t.Helper()

	resp, err := http.Get(app.BaseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return string(body)
}

// invocationsByTool filters the incident's tool invocations by name.
func invocationsByTool(inc *models.Incident, name string) []models.ToolInvocation {
	var out []models.ToolInvocation
	for _, inv := range inc.ToolsUsed {
		if inv.Name == name {
			out = append(out, inv)
		}
	}
	return out
}

// stageVerdict returns the named stage's verdict, failing the test if the
// stage never ran.
func stageVerdict(t *testing.T, inc *models.Incident, stage models.StageName) string {
	t.Helper()
	out, ok := inc.StageOutput(stage)
	require.True(t, ok, "stage %s did not run (stages: %s)", stage, fmt.Sprint(stageNames(inc)))
	return out.Verdict
}

func stageNames(inc *models.Incident) []models.StageName {
	names := make([]models.StageName, 0, len(inc.StageOutputs))
	for _, out := range inc.StageOutputs {
		names = append(names, out.Stage)
	}
	return names
}
