package models

import "time"

// StageName identifies one of the four pipeline stages.
type StageName string

const (
	// StageMonitor confirms and scopes the alert using read-only tools.
	StageMonitor StageName = "monitor"
	// StageAnalyst diagnoses root cause with read tools plus incident memory.
	StageAnalyst StageName = "analyst"
	// StageHealer executes remediations, gated by approval for critical targets.
	StageHealer StageName = "healer"
	// StageCommunicator reports the outcome to the chat channel.
	StageCommunicator StageName = "communicator"
)

// IsValid checks if the stage name is valid
func (s StageName) IsValid() bool {
	switch s {
	case StageMonitor, StageAnalyst, StageHealer, StageCommunicator:
		return true
	default:
		return false
	}
}

// Stages lists the pipeline stages in execution order.
func Stages() []StageName {
	return []StageName{StageMonitor, StageAnalyst, StageHealer, StageCommunicator}
}

// StageError records one classified failure inside a stage.
type StageError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StageOutput captures what one stage produced. It is immutable once the
// stage completes; the pipeline value-copies it into the incident.
type StageOutput struct {
	Stage         StageName    `json:"stage"`
	StartedAt     time.Time    `json:"startedAt"`
	EndedAt       time.Time    `json:"endedAt"`
	Verdict       string       `json:"verdict"`
	ToolCallCount int          `json:"toolCallCount"`
	Errors        []StageError `json:"errors,omitempty"`
}

// HasError reports whether the stage recorded a failure of the given kind.
func (o StageOutput) HasError(kind ErrorKind) bool {
	for _, e := range o.Errors {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Duration returns how long the stage ran.
func (o StageOutput) Duration() time.Duration {
	return o.EndedAt.Sub(o.StartedAt)
}
