// Package metrics collects Prometheus metrics for the incident pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/homelab-ops/warden/pkg/models"
)

// Metrics holds every instrument the service records. Each instance owns its
// registry, so constructing one per test is safe; the API server exposes
// Registry at /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// IncidentsTotal counts accepted incidents. Deliberately unlabeled:
	// severity and outcome breakdowns come from /stats.
	IncidentsTotal prometheus.Counter

	// ToolInvocationsTotal counts tool invocations.
	// Labels: tool, outcome (ok|error|denied|dryrun)
	ToolInvocationsTotal *prometheus.CounterVec

	// ApprovalsTotal counts approval decisions.
	// Labels: decision
	ApprovalsTotal *prometheus.CounterVec

	// IncidentsInFlight is the number of incidents currently in the pipeline.
	IncidentsInFlight prometheus.Gauge

	// MemoryRecords is the number of closed incidents held in vector memory.
	MemoryRecords prometheus.Gauge

	// SuccessRate is resolved / terminal incidents since startup, in [0, 1].
	SuccessRate prometheus.Gauge

	// IncidentDuration measures wall time from acceptance to terminal state.
	// Buckets sized against the 360s incident deadline.
	IncidentDuration prometheus.Histogram

	// StageDuration measures wall time per pipeline stage.
	// Labels: stage (monitor|analyst|healer|communicator)
	StageDuration *prometheus.HistogramVec

	// LLMTokensPerIncident observes total tokens (in + out) per incident.
	LLMTokensPerIncident prometheus.Histogram

	// LLMRequestsTotal counts LLM API calls.
	// Labels: provider, model, status (success|error)
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// QueueDepth is the number of alerts waiting for a pipeline worker.
	QueueDepth prometheus.Gauge
}

// NewMetrics creates and registers all instruments on a fresh registry,
// including the standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		IncidentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "incidents_total",
			Help: "Total number of accepted incidents",
		}),

		ToolInvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_invocations_total",
				Help: "Total number of tool invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		ApprovalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvals_total",
				Help: "Total number of approval decisions",
			},
			[]string{"decision"},
		),

		IncidentsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "incidents_in_flight",
			Help: "Number of incidents currently being processed",
		}),

		MemoryRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memory_records",
			Help: "Number of incident records in vector memory",
		}),

		SuccessRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "success_rate",
			Help: "Fraction of terminal incidents that resolved, since startup",
		}),

		IncidentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "incident_duration_seconds",
			Help:    "Wall time from incident acceptance to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 360, 600},
		}),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stage_duration_seconds",
				Help:    "Wall time per pipeline stage",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 90, 120},
			},
			[]string{"stage"},
		),

		LLMTokensPerIncident: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "llm_tokens_per_incident",
			Help:    "Total LLM tokens consumed per incident",
			Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 25000, 50000},
		}),

		LLMRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM API requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of alerts waiting for a pipeline worker",
		}),
	}
}

// IncidentAccepted records an accepted incident entering the pipeline.
func (m *Metrics) IncidentAccepted() {
	m.IncidentsTotal.Inc()
	m.IncidentsInFlight.Inc()
}

// IncidentFinished records an incident reaching a terminal state.
func (m *Metrics) IncidentFinished(durationSeconds float64, totalTokens int) {
	m.IncidentsInFlight.Dec()
	m.IncidentDuration.Observe(durationSeconds)
	if totalTokens > 0 {
		m.LLMTokensPerIncident.Observe(float64(totalTokens))
	}
}

// RecordToolInvocation records one tool invocation.
func (m *Metrics) RecordToolInvocation(tool string, outcome models.InvocationOutcome) {
	m.ToolInvocationsTotal.WithLabelValues(tool, string(outcome)).Inc()
}

// RecordApproval records one approval decision.
func (m *Metrics) RecordApproval(decision models.Decision) {
	m.ApprovalsTotal.WithLabelValues(string(decision)).Inc()
}

// RecordStage records wall time for one completed pipeline stage.
func (m *Metrics) RecordStage(stage models.StageName, durationSeconds float64) {
	m.StageDuration.WithLabelValues(string(stage)).Observe(durationSeconds)
}

// RecordLLMRequest records one LLM API call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	m.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}
