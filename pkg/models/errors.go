package models

// ErrorKind classifies failures across the pipeline. Kinds are visible in
// audit entries, metrics labels, and stage outputs; the pipeline inspects
// them at stage boundaries to choose between continue, escalate, and fail.
type ErrorKind string

const (
	// ErrorKindBadInput is a malformed webhook payload; no incident is created.
	ErrorKindBadInput ErrorKind = "BadInput"
	// ErrorKindBadArgs is a tool argument validation failure; the LLM may
	// retry within the stage budget.
	ErrorKindBadArgs ErrorKind = "BadArgs"
	// ErrorKindUnknownTool is a call to a tool that is not registered.
	ErrorKindUnknownTool ErrorKind = "UnknownTool"
	// ErrorKindToolExecError is a handler failure; the agent may pick another
	// tool.
	ErrorKindToolExecError ErrorKind = "ToolExecError"
	// ErrorKindDenied is a human rejection; the remediation is not retried.
	ErrorKindDenied ErrorKind = "Denied"
	// ErrorKindAutoRejected is an approval timeout, cancellation, or channel
	// error; same handling as Denied.
	ErrorKindAutoRejected ErrorKind = "AutoRejected"
	// ErrorKindBudgetExceeded is a tripped tool-call or wall-clock stage budget.
	ErrorKindBudgetExceeded ErrorKind = "BudgetExceeded"
	// ErrorKindDeadline is a tripped per-incident deadline.
	ErrorKindDeadline ErrorKind = "Deadline"
	// ErrorKindLLMUnavailable means LLM retries were exhausted.
	ErrorKindLLMUnavailable ErrorKind = "LLMUnavailable"
	// ErrorKindMemoryUnavailable is a vector memory failure; non-fatal.
	ErrorKindMemoryUnavailable ErrorKind = "MemoryUnavailable"
	// ErrorKindCancelled is a context cancellation; terminal, no retries.
	ErrorKindCancelled ErrorKind = "Cancelled"
	// ErrorKindInternal is an invariant violation.
	ErrorKindInternal ErrorKind = "Internal"
)

// IsValid checks if the error kind is valid
func (k ErrorKind) IsValid() bool {
	switch k {
	case ErrorKindBadInput, ErrorKindBadArgs, ErrorKindUnknownTool,
		ErrorKindToolExecError, ErrorKindDenied, ErrorKindAutoRejected,
		ErrorKindBudgetExceeded, ErrorKindDeadline, ErrorKindLLMUnavailable,
		ErrorKindMemoryUnavailable, ErrorKindCancelled, ErrorKindInternal:
		return true
	default:
		return false
	}
}
