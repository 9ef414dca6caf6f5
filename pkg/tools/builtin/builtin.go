// Package builtin provides the tool catalog the service ships with:
// read-only network probes, configured mutation webhooks, incident memory
// search, and the chat message the Communicator reports through.
package builtin

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/tools"
)

// defaultHTTPTimeout bounds probe and webhook requests when the caller does
// not supply a client. Per-call deadlines from the exec context still apply.
const defaultHTTPTimeout = 15 * time.Second

// Deps carries the shared clients the builtin tools close over.
type Deps struct {
	// HTTPClient serves http_probe and webhook_trigger. Nil gets a client
	// with the default timeout.
	HTTPClient *http.Client

	// Memory backs memory_similar. Nil skips the tool; the Analyst then
	// works from the automatic history section alone.
	Memory MemorySearcher

	// Chat backs send_chat_message. Required: the Communicator has no
	// other tool.
	Chat ChatPoster

	// Webhooks are the configured mutation endpoints for webhook_trigger.
	// Empty skips the tool.
	Webhooks []config.WebhookToolConfig
}

// RegisterAll registers every builtin tool its dependencies allow.
func RegisterAll(reg *tools.Registry, deps Deps) error {
	if deps.Chat == nil {
		return fmt.Errorf("builtin tools require a chat poster")
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	catalog := []*tools.Tool{
		HTTPProbe(client),
		TCPCheck(),
		DNSLookup(net.DefaultResolver),
		SendChatMessage(deps.Chat),
	}
	if len(deps.Webhooks) > 0 {
		catalog = append(catalog, WebhookTrigger(client, deps.Webhooks))
	}
	if deps.Memory != nil {
		catalog = append(catalog, MemorySimilar(deps.Memory))
	}

	for _, t := range catalog {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// stringArg returns the trimmed string argument, or "" when absent.
func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return strings.TrimSpace(s)
}

// intArg coerces the numeric forms the argument validator accepts.
func intArg(args map[string]any, name string) (int, bool) {
	switch v := args[name].(type) {
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	default:
		return 0, false
	}
}
