package models

import "time"

// InvocationOutcome is the terminal result class of one tool invocation.
type InvocationOutcome string

const (
	// InvocationOK means the handler ran and returned a usable result.
	InvocationOK InvocationOutcome = "ok"
	// InvocationError means the handler ran and failed.
	InvocationError InvocationOutcome = "error"
	// InvocationDenied means the approval gate refused the call; the handler
	// never ran.
	InvocationDenied InvocationOutcome = "denied"
	// InvocationDryRun means dry-run mode short-circuited the handler to a
	// non-effectful description.
	InvocationDryRun InvocationOutcome = "dryrun"
)

// IsValid checks if the invocation outcome is valid
func (o InvocationOutcome) IsValid() bool {
	switch o {
	case InvocationOK, InvocationError, InvocationDenied, InvocationDryRun:
		return true
	default:
		return false
	}
}

// ToolInvocation records one tool call made during an incident. Invocations
// are appended in completion order and never mutated. ApprovalID is set
// whenever the call went through the approval gate.
type ToolInvocation struct {
	Name       string            `json:"name"`
	Args       map[string]any    `json:"args"`
	StartedAt  time.Time         `json:"startedAt"`
	EndedAt    time.Time         `json:"endedAt"`
	Outcome    InvocationOutcome `json:"outcome"`
	ErrorKind  ErrorKind         `json:"errorKind,omitempty"`
	ApprovalID string            `json:"approvalId,omitempty"`
}
