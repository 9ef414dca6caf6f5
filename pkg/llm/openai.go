package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/metrics"
)

// Backoff between retry attempts: base * factor^(attempt-1) plus up to 10%
// jitter, capped at backoffMax.
const (
	backoffBase   = 500 * time.Millisecond
	backoffFactor = 2.0
	backoffMax    = 10 * time.Second
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
// A configured base URL points it at local runtimes (Ollama, vLLM) without
// code changes.
type OpenAIClient struct {
	client      *openai.Client
	provider    string
	model       string
	temperature float32
	maxTokens   int
	maxAttempts int

	inputCostPer1K  float64
	outputCostPer1K float64

	metrics *metrics.Metrics
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds the completion client from configuration. The
// metrics handle may be nil in tests.
func NewOpenAIClient(cfg *config.LLMConfig, m *metrics.Metrics) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	slog.Info("LLM client configured",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"max_attempts", maxAttempts)

	return &OpenAIClient{
		client:          openai.NewClientWithConfig(clientCfg),
		provider:        string(cfg.Provider),
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		maxAttempts:     maxAttempts,
		inputCostPer1K:  cfg.InputCostPer1K,
		outputCostPer1K: cfg.OutputCostPer1K,
		metrics:         m,
	}
}

// Run executes one completion call with transient-failure retries. The
// wall-clock bound comes from ctx; Run adds no timeout of its own.
func (c *OpenAIClient) Run(ctx context.Context, system string, messages []Message, tools []ToolDefinition, opts Options) (*Turn, error) {
	req := c.buildRequest(system, messages, tools, opts)

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffDelay(attempt)):
			}
		}

		started := time.Now()
		resp, lastErr = c.client.CreateChatCompletion(ctx, req)
		c.record(lastErr, time.Since(started))

		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(lastErr) {
			return nil, fmt.Errorf("llm request failed: %w", lastErr)
		}
		slog.Warn("Transient LLM failure, retrying",
			"model", c.model,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"error", lastErr)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %d attempts failed: %v", ErrUnavailable, c.maxAttempts, lastErr)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response carried no choices", ErrUnavailable)
	}

	turn := &Turn{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	if opts.Cost != nil {
		opts.Cost.AddCost(turn.Usage, c.cost(turn.Usage))
	}
	return turn, nil
}

func (c *OpenAIClient) buildRequest(system string, messages []Message, tools []ToolDefinition, opts Options) openai.ChatCompletionRequest {
	oaiMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		oaiMessages = append(oaiMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		oaiMessages = append(oaiMessages, oaiMsg)
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaiMessages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if opts.Temperature != 0 {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		req.MaxTokens = opts.MaxTokens
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return req
}

// cost converts token usage into dollars using the configured per-1K rates.
// Local models typically configure both rates as zero.
func (c *OpenAIClient) cost(usage Usage) float64 {
	return float64(usage.PromptTokens)/1000*c.inputCostPer1K +
		float64(usage.CompletionTokens)/1000*c.outputCostPer1K
}

func (c *OpenAIClient) record(err error, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordLLMRequest(c.provider, c.model, status, elapsed.Seconds())
}

// backoffDelay computes the jittered exponential delay before the given
// attempt. Attempt numbers start at 1; the first retry waits roughly the
// base delay.
func backoffDelay(attempt int) time.Duration {
	base := float64(backoffBase) * math.Pow(backoffFactor, float64(attempt-2))
	jitter := base * 0.1 * rand.Float64()
	delay := time.Duration(base + jitter)
	if delay > backoffMax {
		delay = backoffMax
	}
	return delay
}

// isTransient classifies an error as worth retrying. Rate limits and server
// errors are transient; any other client error is a misconfiguration that
// retrying cannot fix.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	// No typed API error means the request never got an HTTP response:
	// connection refused, reset, DNS failure. All transient.
	return true
}
