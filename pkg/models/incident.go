package models

import "time"

// Status is the lifecycle state of an incident. Terminal states are
// resolved, escalated, and failed; ClosedAt is set exactly when one of
// those is entered and never unset.
type Status string

const (
	// StatusAccepted means the incident was created and is queued or starting.
	StatusAccepted Status = "accepted"
	// StatusDiagnosing means the Monitor or Analyst stage is running.
	StatusDiagnosing Status = "diagnosing"
	// StatusRemediating means the Healer stage is running.
	StatusRemediating Status = "remediating"
	// StatusNotifying means the Communicator stage is running.
	StatusNotifying Status = "notifying"
	// StatusResolved is terminal: the incident completed.
	StatusResolved Status = "resolved"
	// StatusEscalated is terminal: remediation was denied and handed to a human.
	StatusEscalated Status = "escalated"
	// StatusFailed is terminal: the pipeline hit a fatal error or deadline.
	StatusFailed Status = "failed"
)

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusAccepted, StatusDiagnosing, StatusRemediating,
		StatusNotifying, StatusResolved, StatusEscalated, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status ends the incident lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusEscalated || s == StatusFailed
}

// Outcome tags how an incident ended. noop marks incidents that needed no
// remediation (benign or already resolved); it is an outcome, not a status.
type Outcome string

const (
	OutcomeResolved  Outcome = "resolved"
	OutcomeEscalated Outcome = "escalated"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoop      Outcome = "noop"
)

// IsValid checks if the outcome is valid
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeResolved, OutcomeEscalated, OutcomeFailed, OutcomeNoop:
		return true
	default:
		return false
	}
}

// LLMCost accumulates token and dollar spend across every LLM call made on
// behalf of one incident.
type LLMCost struct {
	TokensIn  int     `json:"tokensIn"`
	TokensOut int     `json:"tokensOut"`
	USD       float64 `json:"usd"`
}

// MaxMergedAlerts bounds the ring buffer of duplicate alerts merged into one
// in-flight incident.
const MaxMergedAlerts = 10

// Incident is the lifecycle record spawned by the first alert with a given
// fingerprint. It is owned by the pipeline until terminal, then written once
// to vector memory. Alerts holds the first alert plus merged duplicates,
// oldest first, capped at MaxMergedAlerts.
type Incident struct {
	ID          string           `json:"id"`
	Fingerprint string           `json:"fingerprint"`
	ReceivedAt  time.Time        `json:"receivedAt"`
	ClosedAt    *time.Time       `json:"closedAt,omitempty"`
	Status      Status           `json:"status"`
	Severity    string           `json:"severity"`
	Alert       Alert            `json:"alert"`
	Alerts      []Alert          `json:"alerts"`
	StageOutputs []StageOutput   `json:"stageOutputs"`
	ToolsUsed   []ToolInvocation `json:"toolsUsed"`
	LLMCost     LLMCost          `json:"llmCost"`
	Outcome     Outcome          `json:"outcome,omitempty"`
	Summary     string           `json:"summary,omitempty"`
}

// Duration returns wall-clock time from intake to close, or to now for
// in-flight incidents.
func (i *Incident) Duration() time.Duration {
	if i.ClosedAt != nil {
		return i.ClosedAt.Sub(i.ReceivedAt)
	}
	return time.Since(i.ReceivedAt)
}

// StageOutput returns the output of the named stage, if that stage ran.
func (i *Incident) StageOutput(stage StageName) (StageOutput, bool) {
	for _, out := range i.StageOutputs {
		if out.Stage == stage {
			return out, true
		}
	}
	return StageOutput{}, false
}

// Clone deep-copies the slices and pointers a concurrent reader could
// otherwise observe mid-mutation. Alert label maps are shared; they are
// never mutated after intake.
func (i *Incident) Clone() *Incident {
	out := *i

	if i.Alerts != nil {
		out.Alerts = make([]Alert, len(i.Alerts))
		copy(out.Alerts, i.Alerts)
	}
	if i.StageOutputs != nil {
		out.StageOutputs = make([]StageOutput, len(i.StageOutputs))
		copy(out.StageOutputs, i.StageOutputs)
	}
	if i.ToolsUsed != nil {
		out.ToolsUsed = make([]ToolInvocation, len(i.ToolsUsed))
		copy(out.ToolsUsed, i.ToolsUsed)
	}
	if i.ClosedAt != nil {
		closed := *i.ClosedAt
		out.ClosedAt = &closed
	}
	return &out
}

// IncidentSummary is the browse-endpoint projection of an incident.
type IncidentSummary struct {
	ID         string     `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	AlertName  string     `json:"alertName"`
	Severity   string     `json:"severity"`
	Status     Status     `json:"status"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	ReceivedAt time.Time  `json:"receivedAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
	AlertCount int        `json:"alertCount"`
	ToolCount  int        `json:"toolCount"`
	Summary    string     `json:"summary,omitempty"`
}

// Summarize projects the incident into its browse form.
func (i *Incident) Summarize() IncidentSummary {
	return IncidentSummary{
		ID:          i.ID,
		Fingerprint: i.Fingerprint,
		AlertName:   i.Alert.Name(),
		Severity:    i.Severity,
		Status:      i.Status,
		Outcome:     i.Outcome,
		ReceivedAt:  i.ReceivedAt,
		ClosedAt:    i.ClosedAt,
		AlertCount:  len(i.Alerts),
		ToolCount:   len(i.ToolsUsed),
		Summary:     i.Summary,
	}
}
