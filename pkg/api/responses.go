package api

import "github.com/homelab-ops/warden/pkg/models"

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthStatusDisabled = "disabled"
)

// AcceptedResponse acknowledges webhook intake.
type AcceptedResponse struct {
	Accepted int `json:"accepted"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string           `json:"status"`
	Version   string           `json:"version"`
	Memory    MemoryHealth     `json:"memory"`
	Chat      ChatHealth       `json:"chat"`
	Pipeline  PipelineHealth   `json:"pipeline"`
	Scheduler *SchedulerHealth `json:"scheduler,omitempty"`
}

// MemoryHealth reports the vector memory backend.
type MemoryHealth struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// ChatHealth reports the approval/notification channel. Disabled chat does
// not degrade overall status; running without Slack is a supported profile.
type ChatHealth struct {
	Status string `json:"status"`
}

// PipelineHealth reports pipeline load.
type PipelineHealth struct {
	InFlight   int `json:"inFlight"`
	QueueDepth int `json:"queueDepth"`
}

// SchedulerHealth reports registered cron entries.
type SchedulerHealth struct {
	Jobs int `json:"jobs"`
}

// StatsResponse is the GET /stats body.
type StatsResponse struct {
	Total              int            `json:"total"`
	SuccessRate        float64        `json:"successRate"`
	AvgDurationSeconds float64        `json:"avgDurationSeconds"`
	CostUSD            float64        `json:"costUsd"`
	BySeverity         map[string]int `json:"bySeverity"`
}

func newStatsResponse(stats *models.MemoryStats) *StatsResponse {
	return &StatsResponse{
		Total:              stats.Count,
		SuccessRate:        stats.SuccessRate,
		AvgDurationSeconds: stats.AvgDurationSeconds,
		CostUSD:            stats.TotalCostUSD,
		BySeverity:         stats.BySeverity,
	}
}

// IncidentListResponse is the GET /incidents body.
type IncidentListResponse struct {
	Items      []models.IncidentSummary `json:"items"`
	NextCursor string                   `json:"nextCursor,omitempty"`
}
