package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast, stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Infrastructure sections first, then sections that depend on them.
	steps := []struct {
		name string
		fn   func() error
	}{
		{"server", v.validateServer},
		{"llm", v.validateLLM},
		{"embedding", v.validateEmbedding},
		{"memory", v.validateMemory},
		{"approval", v.validateApproval},
		{"pipeline", v.validatePipeline},
		{"webhook", v.validateWebhook},
		{"slack", v.validateSlack},
		{"schedule", v.validateSchedule},
		{"audit", v.validateAudit},
		{"masking", v.validateMasking},
		{"tools", v.validateTools},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s validation failed: %w", step.name, err)
		}
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	if v.cfg.Server.Port < 1 || v.cfg.Server.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, v.cfg.Server.Port))
	}
	return nil
}

func (v *ConfigValidator) validateLLM() error {
	llm := v.cfg.LLM
	if !llm.Provider.IsValid() {
		return NewValidationError("llm", "provider", fmt.Errorf("%w: %q", ErrInvalidValue, llm.Provider))
	}
	if llm.Model == "" {
		return NewValidationError("llm", "model", ErrMissingRequiredField)
	}
	if llm.MaxAttempts < 1 {
		return NewValidationError("llm", "max_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if llm.MaxTokens < 1 {
		return NewValidationError("llm", "max_tokens", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if llm.InputCostPer1K < 0 || llm.OutputCostPer1K < 0 {
		return NewValidationError("llm", "input_cost_per_1k", fmt.Errorf("%w: cost must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateEmbedding() error {
	emb := v.cfg.Embedding
	if !emb.Provider.IsValid() {
		return NewValidationError("embedding", "provider", fmt.Errorf("%w: %q", ErrInvalidValue, emb.Provider))
	}
	if emb.Dimension < 1 {
		return NewValidationError("embedding", "dimension", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if emb.Provider == EmbeddingProviderOpenAI && emb.Model == "" {
		return NewValidationError("embedding", "model", ErrMissingRequiredField)
	}
	return nil
}

// PgvectorDimension is the vector width of the incidents collection, fixed
// by the schema migration.
const PgvectorDimension = 1536

func (v *ConfigValidator) validateMemory() error {
	mem := v.cfg.Memory
	if !mem.Backend.IsValid() {
		return NewValidationError("memory", "backend", fmt.Errorf("%w: %q", ErrInvalidValue, mem.Backend))
	}
	if mem.TopK < 1 {
		return NewValidationError("memory", "top_k", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if mem.MinScore < 0 || mem.MinScore > 1 {
		return NewValidationError("memory", "min_score", fmt.Errorf("%w: must be in [0, 1]", ErrInvalidValue))
	}
	if mem.QueryTimeout <= 0 {
		return NewValidationError("memory", "query_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	if mem.Backend == MemoryBackendPgvector {
		db := v.cfg.Database
		if db.Host == "" {
			return NewValidationError("database", "host", ErrMissingRequiredField)
		}
		if db.Name == "" {
			return NewValidationError("database", "name", ErrMissingRequiredField)
		}
		if db.User == "" {
			return NewValidationError("database", "user", ErrMissingRequiredField)
		}
		// The incidents collection is provisioned by migration with a fixed
		// vector width; a mismatched embedder would fail every upsert.
		if v.cfg.Embedding.Dimension != PgvectorDimension {
			return NewValidationError("embedding", "dimension",
				fmt.Errorf("%w: pgvector backend requires dimension %d, got %d",
					ErrInvalidValue, PgvectorDimension, v.cfg.Embedding.Dimension))
		}
	}
	return nil
}

func (v *ConfigValidator) validateApproval() error {
	t := v.cfg.Approval.TimeoutSeconds
	if t < MinApprovalTimeoutSeconds || t > MaxApprovalTimeoutSeconds {
		// resolve() clamps before validation; reaching this means the config
		// was constructed without Initialize.
		return NewValidationError("approval", "timeout_seconds",
			fmt.Errorf("%w: must be in [%d, %d]", ErrInvalidValue, MinApprovalTimeoutSeconds, MaxApprovalTimeoutSeconds))
	}
	return nil
}

func (v *ConfigValidator) validatePipeline() error {
	p := v.cfg.Pipeline
	checks := []struct {
		field string
		value int
	}{
		{"deadline_seconds", p.DeadlineSeconds},
		{"max_concurrent", p.MaxConcurrent},
		{"queue_size", p.QueueSize},
		{"stage_timeout_seconds", p.StageTimeoutSeconds},
		{"tool_budget", p.ToolBudget},
		{"tool_fanout", p.ToolFanout},
		{"tool_timeout_seconds", p.ToolTimeoutSeconds},
	}
	for _, c := range checks {
		if c.value < 1 {
			return NewValidationError("pipeline", c.field, fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
	}
	if p.DedupWindowSeconds < 0 {
		return NewValidationError("pipeline", "dedup_window_seconds", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if p.StageTimeoutSeconds > p.DeadlineSeconds {
		return NewValidationError("pipeline", "stage_timeout_seconds",
			fmt.Errorf("%w: stage timeout %ds exceeds incident deadline %ds", ErrInvalidValue, p.StageTimeoutSeconds, p.DeadlineSeconds))
	}
	return nil
}

func (v *ConfigValidator) validateWebhook() error {
	if v.cfg.Webhook.MaxBodyBytes < 1 {
		return NewValidationError("webhook", "max_body_bytes", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateSlack() error {
	s := v.cfg.Slack
	if !s.Enabled {
		return nil
	}
	if s.Token == "" {
		return NewValidationError("slack", "token", ErrMissingRequiredField)
	}
	if s.ApprovalChannel == "" {
		return NewValidationError("slack", "approval_channel", ErrMissingRequiredField)
	}
	if s.PollInterval <= 0 {
		return NewValidationError("slack", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateSchedule() error {
	sched := v.cfg.Schedule
	seen := make(map[string]bool)
	for i, check := range sched.Checks {
		if check.Name == "" {
			return NewValidationError("schedule", fmt.Sprintf("checks[%d].name", i), ErrMissingRequiredField)
		}
		if seen[check.Name] {
			return NewValidationError("schedule", fmt.Sprintf("checks[%d].name", i),
				fmt.Errorf("%w: duplicate check name %q", ErrInvalidValue, check.Name))
		}
		seen[check.Name] = true

		hasEvery := check.Every > 0
		hasCron := check.Cron != ""
		if hasEvery == hasCron {
			return NewValidationError("schedule", fmt.Sprintf("checks[%d]", i),
				fmt.Errorf("%w: exactly one of 'every' or 'cron' must be set", ErrInvalidValue))
		}
		if hasEvery && check.Every < time.Second {
			return NewValidationError("schedule", fmt.Sprintf("checks[%d].every", i),
				fmt.Errorf("%w: below 1s", ErrInvalidValue))
		}
		if hasCron {
			if _, err := cron.ParseStandard(check.Cron); err != nil {
				return NewValidationError("schedule", fmt.Sprintf("checks[%d].cron", i),
					fmt.Errorf("%w: %v", ErrInvalidValue, err))
			}
		}
	}

	for _, job := range []struct {
		field string
		spec  string
	}{
		{"daily_report", sched.DailyReport},
		{"weekly_report", sched.WeeklyReport},
	} {
		if job.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(job.spec); err != nil {
			return NewValidationError("schedule", job.field, fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}
	return nil
}

func (v *ConfigValidator) validateAudit() error {
	if v.cfg.Audit.Path == "" {
		return NewValidationError("audit", "path", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateMasking() error {
	for i, p := range v.cfg.Masking.CustomPatterns {
		if p.Pattern == "" {
			return NewValidationError("masking", fmt.Sprintf("custom_patterns[%d].pattern", i), ErrMissingRequiredField)
		}
		if p.Replacement == "" {
			return NewValidationError("masking", fmt.Sprintf("custom_patterns[%d].replacement", i), ErrMissingRequiredField)
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return NewValidationError("masking", fmt.Sprintf("custom_patterns[%d].pattern", i),
				fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}
	return nil
}

func (v *ConfigValidator) validateTools() error {
	seen := make(map[string]bool)
	for i, wh := range v.cfg.Tools.Webhooks {
		if wh.Name == "" {
			return NewValidationError("tools", fmt.Sprintf("webhooks[%d].name", i), ErrMissingRequiredField)
		}
		if seen[wh.Name] {
			return NewValidationError("tools", fmt.Sprintf("webhooks[%d].name", i),
				fmt.Errorf("%w: duplicate webhook name %q", ErrInvalidValue, wh.Name))
		}
		seen[wh.Name] = true

		if wh.URL == "" {
			return NewValidationError("tools", fmt.Sprintf("webhooks[%d].url", i), ErrMissingRequiredField)
		}
		parsed, err := url.Parse(wh.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return NewValidationError("tools", fmt.Sprintf("webhooks[%d].url", i),
				fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidValue, wh.URL))
		}
		switch wh.Method {
		case "GET", "POST", "PUT", "DELETE":
		default:
			return NewValidationError("tools", fmt.Sprintf("webhooks[%d].method", i),
				fmt.Errorf("%w: %q", ErrInvalidValue, wh.Method))
		}
		switch wh.Family {
		case "containers", "databases", "lxc":
		default:
			return NewValidationError("tools", fmt.Sprintf("webhooks[%d].family", i),
				fmt.Errorf("%w: %q (expected containers, databases, or lxc)", ErrInvalidValue, wh.Family))
		}
	}
	return nil
}
