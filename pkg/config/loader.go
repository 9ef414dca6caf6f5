package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single configuration file loaded from the config
// directory.
const ConfigFileName = "warden.yaml"

// Initialize loads, resolves, and validates configuration from configDir.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read warden.yaml
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Resolve derived values and clamps
//  6. Validate everything, fail fast
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"scheduled_checks", stats.ScheduledChecks,
		"webhook_tools", stats.WebhookTools,
		"critical_targets", stats.CriticalTargets,
		"memory_backend", cfg.Memory.Backend,
		"dry_run", cfg.Approval.DryRun)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(ConfigFileName, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(ConfigFileName, err)
	}

	// Expand environment variables before parsing so secrets never need to
	// live in the file itself.
	data = ExpandEnv(data)

	var user Config
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, NewLoadError(ConfigFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	// Start from defaults, merge user values on top. Non-zero user fields
	// override; everything else keeps the built-in value.
	cfg := DefaultConfig()
	if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}
	cfg.configDir = configDir

	cfg.resolve()
	return cfg, nil
}

// resolve applies derived values and clamps after the merge.
func (c *Config) resolve() {
	if c.Approval.TimeoutSeconds < MinApprovalTimeoutSeconds {
		slog.Warn("approval.timeout_seconds below minimum, clamping",
			"value", c.Approval.TimeoutSeconds,
			"min", MinApprovalTimeoutSeconds)
		c.Approval.TimeoutSeconds = MinApprovalTimeoutSeconds
	}
	if c.Approval.TimeoutSeconds > MaxApprovalTimeoutSeconds {
		slog.Warn("approval.timeout_seconds above maximum, clamping",
			"value", c.Approval.TimeoutSeconds,
			"max", MaxApprovalTimeoutSeconds)
		c.Approval.TimeoutSeconds = MaxApprovalTimeoutSeconds
	}

	if c.Slack.NotifyChannel == "" {
		c.Slack.NotifyChannel = c.Slack.ApprovalChannel
	}

	for i := range c.Tools.Webhooks {
		wh := &c.Tools.Webhooks[i]
		if wh.Method == "" {
			wh.Method = "POST"
		}
		wh.Method = strings.ToUpper(wh.Method)
		if wh.Family == "" {
			wh.Family = "containers"
		}
	}

	for i := range c.Schedule.Checks {
		check := &c.Schedule.Checks[i]
		if check.Severity == "" {
			check.Severity = "info"
		}
	}
}
