// Warden incident-response server — receives alert webhooks, runs the
// staged agent pipeline, and coordinates approvals, memory, and
// notifications.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/homelab-ops/warden/pkg/agent"
	"github.com/homelab-ops/warden/pkg/api"
	"github.com/homelab-ops/warden/pkg/approval"
	"github.com/homelab-ops/warden/pkg/audit"
	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/database"
	"github.com/homelab-ops/warden/pkg/incident"
	"github.com/homelab-ops/warden/pkg/llm"
	"github.com/homelab-ops/warden/pkg/masking"
	"github.com/homelab-ops/warden/pkg/memory"
	"github.com/homelab-ops/warden/pkg/metrics"
	"github.com/homelab-ops/warden/pkg/pipeline"
	"github.com/homelab-ops/warden/pkg/schedule"
	"github.com/homelab-ops/warden/pkg/slack"
	"github.com/homelab-ops/warden/pkg/tools"
	"github.com/homelab-ops/warden/pkg/tools/builtin"
)

// httpShutdownTimeout bounds draining in-flight HTTP requests; the pipeline
// drain has its own, longer budget.
const httpShutdownTimeout = 5 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting Warden", "config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"llm_model", cfg.LLM.Model,
		"memory_backend", cfg.Memory.Backend,
		"webhook_tools", stats.WebhookTools,
		"scheduled_checks", stats.ScheduledChecks,
		"dry_run", cfg.Approval.DryRun)

	// 2. Open the audit log
	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		slog.Error("Failed to open audit log", "path", cfg.Audit.Path, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			slog.Error("Error closing audit log", "error", err)
		}
	}()

	// 3. Masking, metrics, and the in-memory incident store
	masker := masking.NewService(cfg.Masking)
	m := metrics.NewMetrics()
	store := incident.NewStore(0)

	// 4. Incident memory: embedder plus the configured vector index
	embedder, err := memory.NewEmbedder(cfg.Embedding, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		slog.Error("Failed to initialize embedder", "error", err)
		os.Exit(1)
	}

	var index memory.Index
	switch cfg.Memory.Backend {
	case config.MemoryBackendPgvector:
		dbClient, err := database.NewClient(ctx, database.FromAppConfig(cfg.Database))
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")

		index, err = memory.NewPgvectorIndex(ctx, dbClient, cfg.Embedding.Dimension)
		if err != nil {
			slog.Error("Failed to initialize pgvector index", "error", err)
			os.Exit(1)
		}
	default:
		index = memory.NewInProcessIndex()
		slog.Warn("Using in-process memory index, records are lost on restart")
	}
	memoryService := memory.NewService(embedder, index, cfg.Memory, m)

	// 5. LLM client
	llmClient := llm.NewOpenAIClient(cfg.LLM, m)
	slog.Info("LLM client initialized",
		"provider", cfg.LLM.Provider, "model", cfg.LLM.Model, "base_url", cfg.LLM.BaseURL)

	// 6. Slack service. A nil service is valid everywhere downstream: it
	// logs instead of posting, and approvals fall back to auto-reject on
	// timeout.
	slackService := slack.NewService(cfg.Slack)
	if slackService == nil {
		slog.Info("Slack disabled, approvals will auto-reject on timeout and reports go to the log")
	}

	// 7. Approval gate
	gate, err := approval.NewGate(cfg.Approval, cfg.CriticalTargets, slackService, auditLog, masker, m)
	if err != nil {
		slog.Error("Failed to initialize approval gate", "error", err)
		os.Exit(1)
	}

	// 8. Tool registry with the built-in catalog
	registry := tools.NewRegistry(gate, masker, m)
	err = builtin.RegisterAll(registry, builtin.Deps{
		Memory:   memoryService,
		Chat:     slackService,
		Webhooks: cfg.Tools.Webhooks,
	})
	if err != nil {
		slog.Error("Failed to register built-in tools", "error", err)
		os.Exit(1)
	}
	slog.Info("Tool registry initialized", "tools", registry.Names())

	// 9. Agent runner and the incident pipeline
	runner := agent.NewRunner(llmClient, registry, memoryService, cfg.Pipeline, m)
	pipe := pipeline.New(runner, store, memoryService, slackService, auditLog,
		gate.TargetMutex, cfg.Pipeline, cfg.Approval.DryRun, m)
	pipe.Start(ctx)

	// 10. Scheduler for synthetic checks and stats reports
	scheduler, err := schedule.New(pipe, memoryService, slackService, cfg.Schedule)
	if err != nil {
		slog.Error("Failed to initialize scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	// 11. Slack decision listener. Runs until the pipeline has drained so
	// in-flight approvals can still be decided during shutdown.
	listenerCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	if slackService != nil {
		listener := slack.NewListener(slackService.Client(), cfg.Slack.ApprovalChannel, gate, cfg.Slack.PollInterval)
		go listener.Run(listenerCtx)
	}

	// 12. HTTP server (non-blocking)
	httpServer := api.NewServer(pipe, store, memoryService, scheduler, slackService, m.Registry, cfg.Server, cfg.Webhook)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Warden started successfully",
		"addr", cfg.Server.Addr(),
		"workers", cfg.Pipeline.MaxConcurrent,
		"dry_run", cfg.Approval.DryRun)

	// 13. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 14. Graceful shutdown: stop intake first, then drain.
	httpCtx, httpCancel := context.WithTimeout(ctx, httpShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	scheduler.Stop()

	// Drain in-flight incidents, bounded by the per-incident deadline. The
	// decision listener stays up until the drain finishes or times out.
	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.Pipeline.Deadline())
	defer drainCancel()

	done := make(chan struct{})
	go func() {
		pipe.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Pipeline drained gracefully")
	case <-drainCtx.Done():
		slog.Warn("Pipeline drain timeout exceeded, abandoning in-flight incidents")
	}
	stopListener()

	slog.Info("Shutdown complete")
}
