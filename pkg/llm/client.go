// Package llm is the single place the service talks to a chat-completion
// API. Stages never call the model directly; they go through Client so that
// retries, cost accounting, and deadline handling live in one spot.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable means retries were exhausted against transient failures.
// Stage policy decides whether that skips the stage or fails the incident.
var ErrUnavailable = errors.New("llm unavailable")

// Role values follow the chat-completion wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in the conversation sent to the model.
type Message struct {
	Role    string
	Content string

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
}

// ToolCall is one tool request issued by the model. Arguments is the raw
// JSON string as produced by the API; the registry parses and validates it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes one tool offered to the model for a turn.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage is the token accounting for one completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Turn is the model's reply to one completion call: either terminal
// assistant text, or a request to invoke one or more tools.
type Turn struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Terminal reports whether the turn ends the conversation loop.
func (t *Turn) Terminal() bool {
	return len(t.ToolCalls) == 0
}

// Options tune a single Run call. Zero values fall back to the client's
// configured defaults.
type Options struct {
	Temperature float32
	MaxTokens   int

	// Cost receives token and dollar spend for this call. The runner binds
	// it to the owning incident; a nil sink discards the numbers.
	Cost CostSink
}

// CostSink accumulates token and dollar spend onto the owning incident.
type CostSink interface {
	AddCost(usage Usage, usd float64)
}

// Client runs one completion turn. Implementations retry transient
// failures internally; the deadline comes from ctx only.
type Client interface {
	Run(ctx context.Context, system string, messages []Message, tools []ToolDefinition, opts Options) (*Turn, error)
}
