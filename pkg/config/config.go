// Package config loads, merges, and validates the warden.yaml configuration.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved process configuration. Built by Initialize;
// read-only afterwards.
type Config struct {
	configDir string

	Server          *ServerConfig    `yaml:"server"`
	LLM             *LLMConfig       `yaml:"llm"`
	Embedding       *EmbeddingConfig `yaml:"embedding"`
	Memory          *MemoryConfig    `yaml:"memory"`
	Database        *DatabaseConfig  `yaml:"database"`
	Approval        *ApprovalConfig  `yaml:"approval"`
	CriticalTargets *CriticalTargets `yaml:"critical_targets"`
	Pipeline        *PipelineConfig  `yaml:"pipeline"`
	Webhook         *WebhookConfig   `yaml:"webhook"`
	Slack           *SlackConfig     `yaml:"slack"`
	Schedule        *ScheduleConfig  `yaml:"schedule"`
	Audit           *AuditConfig     `yaml:"audit"`
	Masking         *MaskingConfig   `yaml:"masking"`
	Tools           *ToolsConfig     `yaml:"tools"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarises the loaded configuration for the startup log.
type Stats struct {
	ScheduledChecks int
	WebhookTools    int
	CriticalTargets int
	SecretMaskKeys  int
}

// Stats returns counts of configured components.
func (c *Config) Stats() Stats {
	return Stats{
		ScheduledChecks: len(c.Schedule.Checks),
		WebhookTools:    len(c.Tools.Webhooks),
		CriticalTargets: len(c.CriticalTargets.Hypervisor.LXC.IDs) +
			len(c.CriticalTargets.Databases.Names) +
			len(c.CriticalTargets.Containers.Names),
		SecretMaskKeys: len(c.Masking.SecretKeys),
	}
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMProvider identifies a chat-completion backend.
type LLMProvider string

const (
	// LLMProviderOpenAI talks to the OpenAI API or any OpenAI-compatible
	// endpoint (Ollama, vLLM, LiteLLM) selected via base_url.
	LLMProviderOpenAI LLMProvider = "openai"
)

// IsValid checks if the LLM provider is valid
func (p LLMProvider) IsValid() bool {
	return p == LLMProviderOpenAI
}

// LLMConfig configures the chat-completion client.
type LLMConfig struct {
	Provider    LLMProvider `yaml:"provider"`
	Model       string      `yaml:"model"`
	APIKey      string      `yaml:"api_key,omitempty"`
	BaseURL     string      `yaml:"base_url,omitempty"`
	Temperature float32     `yaml:"temperature"`
	MaxTokens   int         `yaml:"max_tokens"`

	// MaxAttempts bounds retries of transient failures per call.
	MaxAttempts int `yaml:"max_attempts"`

	// Cost per 1000 tokens, used for the per-incident USD accounting.
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
}

// EmbeddingProvider identifies an embedding backend.
type EmbeddingProvider string

const (
	// EmbeddingProviderOpenAI uses the OpenAI embeddings API.
	EmbeddingProviderOpenAI EmbeddingProvider = "openai"
	// EmbeddingProviderLocal uses deterministic in-process token-hash
	// vectors. No network; meant for dev profiles and tests.
	EmbeddingProviderLocal EmbeddingProvider = "local"
)

// IsValid checks if the embedding provider is valid
func (p EmbeddingProvider) IsValid() bool {
	return p == EmbeddingProviderOpenAI || p == EmbeddingProviderLocal
}

// EmbeddingConfig configures incident embedding.
type EmbeddingConfig struct {
	Provider  EmbeddingProvider `yaml:"provider"`
	Model     string            `yaml:"model"`
	Dimension int               `yaml:"dimension"`
}

// MemoryBackend identifies a vector index implementation.
type MemoryBackend string

const (
	// MemoryBackendPgvector stores records in Postgres with the pgvector
	// extension.
	MemoryBackendPgvector MemoryBackend = "pgvector"
	// MemoryBackendInProcess keeps records in process memory. Dev and test
	// profile; records do not survive a restart.
	MemoryBackendInProcess MemoryBackend = "inprocess"
)

// IsValid checks if the memory backend is valid
func (b MemoryBackend) IsValid() bool {
	return b == MemoryBackendPgvector || b == MemoryBackendInProcess
}

// MemoryConfig configures the vector incident memory.
type MemoryConfig struct {
	Backend MemoryBackend `yaml:"backend"`

	// TopK is how many similar incidents the Analyst receives.
	TopK int `yaml:"top_k"`

	// MinScore is the similarity cutoff in [0, 1]; lower-scoring records
	// are not returned.
	MinScore float64 `yaml:"min_score"`

	// QueryTimeout bounds one index round trip.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DatabaseConfig holds Postgres connection settings for the pgvector backend.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Approval timeout clamp bounds, in seconds.
const (
	MinApprovalTimeoutSeconds = 1
	MaxApprovalTimeoutSeconds = 86400
)

// ApprovalConfig configures the human approval gate.
type ApprovalConfig struct {
	// TimeoutSeconds is the default wait for a human decision. Clamped to
	// [MinApprovalTimeoutSeconds, MaxApprovalTimeoutSeconds] at load time;
	// elapsing denies the request.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// DryRun short-circuits every mutating handler to a non-effectful
	// description when true.
	DryRun bool `yaml:"dry_run"`
}

// Timeout returns the approval wait as a duration.
func (c *ApprovalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CriticalTargets is the table consulted by the approval gate to decide
// whether a mutation target requires human sign-off.
type CriticalTargets struct {
	Hypervisor HypervisorTargets `yaml:"hypervisor"`
	Databases  NameTargets       `yaml:"databases"`
	Containers NameTargets       `yaml:"containers"`
}

// HypervisorTargets groups hypervisor-level critical targets.
type HypervisorTargets struct {
	LXC LXCTargets `yaml:"lxc"`
}

// LXCTargets lists container ids that are always critical for LXC-mutating
// tools.
type LXCTargets struct {
	IDs FlexibleStringList `yaml:"ids"`
}

// NameTargets lists names that are always critical for the owning family.
type NameTargets struct {
	Names []string `yaml:"names"`
}

// FlexibleStringList accepts both bare numbers and strings in YAML, so
// `ids: [100, 200]` and `ids: ["100", "200"]` are equivalent.
type FlexibleStringList []string

// UnmarshalYAML implements flexible scalar decoding.
func (l *FlexibleStringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("expected a sequence, got %v", value.Tag)
	}
	out := make(FlexibleStringList, 0, len(value.Content))
	for i, node := range value.Content {
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("element %d: expected scalar, got %v", i, node.Tag)
		}
		out = append(out, node.Value)
	}
	*l = out
	return nil
}

// PipelineConfig configures incident processing.
type PipelineConfig struct {
	// DeadlineSeconds is the hard per-incident wall-clock budget.
	DeadlineSeconds int `yaml:"deadline_seconds"`

	// MaxConcurrent is the worker pool size; one worker runs one incident
	// start to finish.
	MaxConcurrent int `yaml:"max_concurrent"`

	// QueueSize bounds the intake queue; a full queue answers 503.
	QueueSize int `yaml:"queue_size"`

	// DedupWindowSeconds is how long a terminated fingerprint is remembered
	// so a reopening incident can be linked to its predecessor.
	DedupWindowSeconds int `yaml:"dedup_window_seconds"`

	// StageTimeoutSeconds is the per-stage wall-clock budget.
	StageTimeoutSeconds int `yaml:"stage_timeout_seconds"`

	// ToolBudget is the per-stage tool-call budget.
	ToolBudget int `yaml:"tool_budget"`

	// ToolFanout bounds concurrent tool calls from one LLM turn.
	ToolFanout int `yaml:"tool_fanout"`

	// ToolTimeoutSeconds is the default per-handler timeout.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds"`
}

// Deadline returns the per-incident deadline as a duration.
func (c *PipelineConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineSeconds) * time.Second
}

// DedupWindow returns the terminated-fingerprint memory as a duration.
func (c *PipelineConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// StageTimeout returns the per-stage budget as a duration.
func (c *PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// ToolTimeout returns the default handler timeout as a duration.
func (c *PipelineConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// WebhookConfig configures the alert intake endpoint.
type WebhookConfig struct {
	// SharedSecret, when set, must match the X-Webhook-Token header.
	// Comparison is constant time.
	SharedSecret string `yaml:"shared_secret,omitempty"`

	// MaxBodyBytes caps the accepted payload size.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// SlackConfig configures the approval channel and notifier.
type SlackConfig struct {
	Enabled bool `yaml:"enabled"`

	Token string `yaml:"token,omitempty"`

	// ApprovalChannel receives approval prompts and is polled for
	// APPROVE/REJECT commands.
	ApprovalChannel string `yaml:"approval_channel,omitempty"`

	// NotifyChannel receives incident reports. Defaults to ApprovalChannel
	// when empty.
	NotifyChannel string `yaml:"notify_channel,omitempty"`

	// PollInterval is how often the decision listener reads channel history.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ScheduleConfig configures proactive checks and reports.
type ScheduleConfig struct {
	Enabled bool          `yaml:"enabled"`
	Checks  []CheckConfig `yaml:"checks,omitempty"`

	// DailyReport and WeeklyReport are cron expressions; empty disables
	// the job.
	DailyReport  string `yaml:"daily_report,omitempty"`
	WeeklyReport string `yaml:"weekly_report,omitempty"`
}

// CheckConfig is one synthetic proactive check. Exactly one of Every or
// Cron must be set.
type CheckConfig struct {
	Name     string            `yaml:"name"`
	Every    time.Duration     `yaml:"every,omitempty"`
	Cron     string            `yaml:"cron,omitempty"`
	Severity string            `yaml:"severity,omitempty"`
	Labels   map[string]string `yaml:"labels,omitempty"`
}

// AuditConfig configures the append-only audit log.
type AuditConfig struct {
	// Path is the JSON-lines audit file. Rotation is external.
	Path string `yaml:"path"`
}

// MaskingConfig configures secret redaction.
type MaskingConfig struct {
	// SecretKeys are argument keys whose values are always elided in audit
	// entries and approval prompts.
	SecretKeys []string `yaml:"secret_keys,omitempty"`

	// PatternGroups selects builtin regex groups (security, basic).
	PatternGroups []string `yaml:"pattern_groups,omitempty"`

	// CustomPatterns adds deployment-specific regexes.
	CustomPatterns []MaskPattern `yaml:"custom_patterns,omitempty"`
}

// MaskPattern defines a regex-based masking pattern.
type MaskPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}

// ToolsConfig configures builtin tool providers.
type ToolsConfig struct {
	// Webhooks are named mutation endpoints for the webhook_trigger tool.
	// The tool only accepts configured names, never raw URLs.
	Webhooks []WebhookToolConfig `yaml:"webhooks,omitempty"`
}

// WebhookToolConfig is one named mutation webhook.
type WebhookToolConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Method string `yaml:"method,omitempty"`

	// Family assigns the target to a critical-target family (containers,
	// databases, lxc). Defaults to containers.
	Family string `yaml:"family,omitempty"`
}
