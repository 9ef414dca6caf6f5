package models

import "time"

// MemoryPayload is the searchable snapshot of a closed incident stored next
// to its embedding in the vector index.
type MemoryPayload struct {
	Fingerprint     string            `json:"fingerprint"`
	Severity        string            `json:"severity"`
	Labels          map[string]string `json:"labels"`
	StageSummaries  map[string]string `json:"stageSummaries"`
	Outcome         Outcome           `json:"outcome"`
	ToolsUsed       []string          `json:"toolsUsed"`
	DurationSeconds float64           `json:"durationSeconds"`
	LLMCostUSD      float64           `json:"llmCostUsd"`
	ClosedAt        time.Time         `json:"closedAt"`
}

// MemoryRecord is one vector-indexed incident. ID equals the incident id;
// at most one record exists per incident.
type MemoryRecord struct {
	ID        string        `json:"id"`
	Embedding []float32     `json:"-"`
	Payload   MemoryPayload `json:"payload"`
}

// ScoredRecord pairs a record with its similarity to a query, in [0, 1].
type ScoredRecord struct {
	Record MemoryRecord `json:"record"`
	Score  float64      `json:"score"`
}

// MemoryStats aggregates the closed-incident population.
type MemoryStats struct {
	Count              int             `json:"count"`
	SuccessRate        float64         `json:"successRate"`
	AvgDurationSeconds float64         `json:"avgDurationSeconds"`
	TotalCostUSD       float64         `json:"totalCostUsd"`
	BySeverity         map[string]int  `json:"bySeverity"`
}
