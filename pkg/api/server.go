// Package api exposes the HTTP surface: webhook intake, health, stats,
// incident browse, and Prometheus exposition.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/incident"
	"github.com/homelab-ops/warden/pkg/models"
)

// Intake is the pipeline surface the webhook submits into.
type Intake interface {
	Submit(alert models.Alert) error
	InFlight() int
	QueueDepth() int
}

// MemoryInfo is the memory-service surface the health and stats endpoints
// read. Nil means vector memory is disabled.
type MemoryInfo interface {
	Health(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*models.MemoryStats, error)
}

// JobCounter reports registered scheduler entries for the health endpoint.
type JobCounter interface {
	Jobs() int
}

// ChatInfo reports whether the chat channel is configured. A nil
// *slack.Service satisfies it and reports disabled.
type ChatInfo interface {
	Enabled() bool
}

// Server is the HTTP API server.
type Server struct {
	intake    Intake
	store     *incident.Store
	memory    MemoryInfo
	scheduler JobCounter
	chat      ChatInfo
	logger    *slog.Logger

	secret  string
	maxBody int64

	echo *echo.Echo
	http *http.Server
}

// NewServer wires routes and middleware. memory, scheduler, and chat may be
// nil; registry may be nil to disable /metrics.
func NewServer(intake Intake, store *incident.Store, memory MemoryInfo, scheduler JobCounter, chat ChatInfo, registry *prometheus.Registry, serverCfg *config.ServerConfig, webhookCfg *config.WebhookConfig) *Server {
	s := &Server{
		intake:    intake,
		store:     store,
		memory:    memory,
		scheduler: scheduler,
		chat:      chat,
		logger:    slog.Default().With("component", "api"),
		secret:    webhookCfg.SharedSecret,
		maxBody:   webhookCfg.MaxBodyBytes,
	}
	if s.maxBody <= 0 {
		s.maxBody = 1 << 20
	}

	e := echo.New()
	e.Use(securityHeaders())

	e.POST("/alert", s.postAlertHandler, webhookAuth(s.secret))
	e.GET("/health", s.healthHandler)
	e.GET("/stats", s.statsHandler)
	e.GET("/incidents", s.listIncidentsHandler)
	if registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	s.echo = e
	s.http = &http.Server{
		Addr:              serverCfg.Addr(),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves HTTP and blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
