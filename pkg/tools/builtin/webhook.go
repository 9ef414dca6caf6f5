package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/tools"
)

// WebhookTrigger exposes the configured mutation webhooks as one tool. The
// model selects a webhook by its configured name; raw URLs are never
// accepted. Each webhook's family decides which critical-target list its
// name is matched against, and calls serialise per (family, name) so two
// stages cannot fire the same remediation concurrently.
func WebhookTrigger(client *http.Client, hooks []config.WebhookToolConfig) *tools.Tool {
	byName := make(map[string]config.WebhookToolConfig, len(hooks))
	names := make([]string, 0, len(hooks))
	for _, h := range hooks {
		byName[h.Name] = h
		names = append(names, h.Name)
	}
	sort.Strings(names)

	return &tools.Tool{
		Name: "webhook_trigger",
		Description: fmt.Sprintf(
			"Trigger a configured remediation webhook by name. Available webhooks: %s.",
			strings.Join(names, ", ")),
		Params: []tools.Param{
			{Name: "name", Type: tools.TypeString, Required: true, Description: "Name of the configured webhook to trigger"},
			{Name: "payload", Type: tools.TypeObject, Description: "Optional JSON object forwarded in the request body"},
		},
		Risk:   tools.RiskMutateCriticalCandidate,
		Family: tools.FamilyContainers,
		TargetFamily: func(args map[string]any) string {
			if h, ok := byName[stringArg(args, "name")]; ok {
				return h.Family
			}
			return ""
		},
		Handler: webhookTriggerHandler(client, byName),
	}
}

func webhookTriggerHandler(client *http.Client, byName map[string]config.WebhookToolConfig) tools.Handler {
	return func(ctx context.Context, ec *tools.ExecContext, args map[string]any) (string, error) {
		name := stringArg(args, "name")
		hook, ok := byName[name]
		if !ok {
			return "", fmt.Errorf("no webhook named %q is configured", name)
		}

		if ec != nil && ec.Locks != nil {
			unlock := ec.Locks.Lock(hook.Family + "/" + hook.Name)
			defer unlock()
		}

		method := hook.Method
		if method == "" {
			method = http.MethodPost
		}

		var body io.Reader
		if method == http.MethodPost || method == http.MethodPut {
			envelope := map[string]any{
				"triggered_by": "warden",
				"webhook":      hook.Name,
			}
			if ec != nil {
				envelope["incident_id"] = ec.IncidentID
			}
			if payload, ok := args["payload"].(map[string]any); ok {
				envelope["payload"] = payload
			}
			encoded, err := json.Marshal(envelope)
			if err != nil {
				return "", fmt.Errorf("encode payload: %w", err)
			}
			body = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, hook.URL, body)
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("webhook %s: %w", hook.Name, err)
		}
		defer resp.Body.Close()

		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, probeBodyLimit))
		elapsed := time.Since(start).Round(time.Millisecond)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", fmt.Errorf("webhook %s returned %s: %s",
				hook.Name, resp.Status, strings.TrimSpace(string(excerpt)))
		}

		out := fmt.Sprintf("webhook %s: %s in %s", hook.Name, resp.Status, elapsed)
		if trimmed := strings.TrimSpace(string(excerpt)); trimmed != "" {
			out += "\n" + trimmed
		}
		return out, nil
	}
}
