package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedTurn is one pre-baked reply for the ScriptedClient.
type ScriptedTurn struct {
	Turn *Turn
	Err  error
}

// RecordedCall captures the arguments of one Run invocation for assertions.
type RecordedCall struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
	Opts     Options
}

// ScriptedClient replays a fixed sequence of turns. It exists for pipeline
// and stage tests that need deterministic model behavior without a network.
// Run returns the scripted turns in order and fails loudly when the script
// runs out, so a test that makes an unexpected extra call breaks instead of
// hanging on a stale reply.
type ScriptedClient struct {
	mu    sync.Mutex
	turns []ScriptedTurn
	next  int
	calls []RecordedCall
}

var _ Client = (*ScriptedClient)(nil)

// NewScriptedClient creates a client that replays the given turns in order.
func NewScriptedClient(turns ...ScriptedTurn) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

// TextTurn scripts a terminal assistant message.
func TextTurn(content string) ScriptedTurn {
	return ScriptedTurn{Turn: &Turn{
		Content: content,
		Usage:   Usage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
	}}
}

// ToolTurn scripts a turn that requests the given tool calls.
func ToolTurn(calls ...ToolCall) ScriptedTurn {
	return ScriptedTurn{Turn: &Turn{
		ToolCalls: calls,
		Usage:     Usage{PromptTokens: 150, CompletionTokens: 30, TotalTokens: 180},
	}}
}

// ErrTurn scripts a failure.
func ErrTurn(err error) ScriptedTurn {
	return ScriptedTurn{Err: err}
}

// Call builds a ToolCall with JSON arguments for scripting.
func Call(id, name, argsJSON string) ToolCall {
	return ToolCall{ID: id, Name: name, Arguments: argsJSON}
}

// Run replays the next scripted turn.
func (s *ScriptedClient) Run(ctx context.Context, system string, messages []Message, tools []ToolDefinition, opts Options) (*Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, RecordedCall{
		System:   system,
		Messages: append([]Message(nil), messages...),
		Tools:    append([]ToolDefinition(nil), tools...),
		Opts:     opts,
	})
	if s.next >= len(s.turns) {
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted client exhausted after %d turns", len(s.turns))
	}
	scripted := s.turns[s.next]
	s.next++
	s.mu.Unlock()

	if scripted.Err != nil {
		return nil, scripted.Err
	}
	if opts.Cost != nil {
		opts.Cost.AddCost(scripted.Turn.Usage, 0.001)
	}
	return scripted.Turn, nil
}

// Calls returns the recorded Run invocations.
func (s *ScriptedClient) Calls() []RecordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedCall(nil), s.calls...)
}

// Remaining returns how many scripted turns were not consumed.
func (s *ScriptedClient) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns) - s.next
}
