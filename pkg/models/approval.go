package models

import "time"

// ApprovalSeverity controls how an approval prompt is presented. It does not
// change the deny-on-timeout semantics.
type ApprovalSeverity string

const (
	ApprovalSeverityInfo     ApprovalSeverity = "info"
	ApprovalSeverityWarning  ApprovalSeverity = "warning"
	ApprovalSeverityCritical ApprovalSeverity = "critical"
)

// IsValid checks if the approval severity is valid
func (s ApprovalSeverity) IsValid() bool {
	switch s {
	case ApprovalSeverityInfo, ApprovalSeverityWarning, ApprovalSeverityCritical:
		return true
	default:
		return false
	}
}

// Decision is the terminal classification of an approval request.
type Decision string

const (
	// DecisionPending means the request is still waiting on a human.
	DecisionPending Decision = "pending"
	// DecisionApproved means a human approved within the timeout.
	DecisionApproved Decision = "approved"
	// DecisionRejected means a human rejected within the timeout.
	DecisionRejected Decision = "rejected"
	// DecisionAutoApproved covers dry-run and non-critical targets; no human
	// was consulted.
	DecisionAutoApproved Decision = "autoApproved"
	// DecisionAutoRejected covers timeout and cancellation; the safe default.
	DecisionAutoRejected Decision = "autoRejected"
	// DecisionErrored means the approval channel itself failed; treated the
	// same as autoRejected.
	DecisionErrored Decision = "errored"
)

// IsValid checks if the decision is valid
func (d Decision) IsValid() bool {
	switch d {
	case DecisionPending, DecisionApproved, DecisionRejected,
		DecisionAutoApproved, DecisionAutoRejected, DecisionErrored:
		return true
	default:
		return false
	}
}

// Allows reports whether the decision permits the handler to execute.
func (d Decision) Allows() bool {
	return d == DecisionApproved || d == DecisionAutoApproved
}

// ApprovalRequest tracks one request for human sign-off on a critical
// mutation. ID carries a random component and is the correlation token the
// human returns in APPROVE/REJECT commands.
type ApprovalRequest struct {
	ID          string           `json:"id"`
	IncidentID  string           `json:"incidentId"`
	Tool        string           `json:"tool"`
	Args        map[string]any   `json:"args"`
	Severity    ApprovalSeverity `json:"severity"`
	RequestedAt time.Time        `json:"requestedAt"`
	TimeoutAt   time.Time        `json:"timeoutAt"`
	Decision    Decision         `json:"decision"`
	DecidedAt   *time.Time       `json:"decidedAt,omitempty"`
	DeciderRef  string           `json:"deciderRef,omitempty"`
}
