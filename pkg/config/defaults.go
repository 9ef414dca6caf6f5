package config

import "time"

// DefaultConfig returns the built-in defaults. User YAML is merged on top;
// unset user values keep these.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Host: "0.0.0.0",
			Port: 8880,
		},
		LLM: &LLMConfig{
			Provider:        LLMProviderOpenAI,
			Model:           "gpt-4o-mini",
			Temperature:     0.1,
			MaxTokens:       2048,
			MaxAttempts:     3,
			InputCostPer1K:  0.00015,
			OutputCostPer1K: 0.0006,
		},
		Embedding: &EmbeddingConfig{
			Provider:  EmbeddingProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		Memory: &MemoryConfig{
			Backend:      MemoryBackendPgvector,
			TopK:         5,
			MinScore:     0.55,
			QueryTimeout: 5 * time.Second,
		},
		Database: &DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "warden",
			Name:            "warden",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Approval: &ApprovalConfig{
			TimeoutSeconds: 300,
			DryRun:         false,
		},
		CriticalTargets: &CriticalTargets{},
		Pipeline: &PipelineConfig{
			DeadlineSeconds:     360,
			MaxConcurrent:       4,
			QueueSize:           64,
			DedupWindowSeconds:  60,
			StageTimeoutSeconds: 90,
			ToolBudget:          10,
			ToolFanout:          4,
			ToolTimeoutSeconds:  10,
		},
		Webhook: &WebhookConfig{
			MaxBodyBytes: 1 << 20,
		},
		Slack: &SlackConfig{
			PollInterval: 3 * time.Second,
		},
		Schedule: &ScheduleConfig{
			Enabled: true,
			Checks: []CheckConfig{
				{
					Name:     "synthetic-health",
					Every:    5 * time.Minute,
					Severity: "info",
				},
			},
			DailyReport:  "0 8 * * *",
			WeeklyReport: "0 9 * * 1",
		},
		Audit: &AuditConfig{
			Path: "warden-audit.jsonl",
		},
		Masking: &MaskingConfig{
			SecretKeys:    []string{"password", "token", "secret", "api_key", "apikey", "authorization"},
			PatternGroups: []string{"security"},
		},
		Tools: &ToolsConfig{},
	}
}
