package models

import "time"

// Approver values for audit entries that were not decided by a human.
const (
	ApproverAutoDryRun      = "auto(dryrun)"
	ApproverAutoNonCritical = "auto(noncritical)"
	ApproverAutoTimeout     = "auto(timeout)"
	ApproverAutoCancelled   = "auto(cancelled)"
	ApproverAutoError       = "auto(error)"
)

// AuditEntry is one line of the append-only audit log. Entries are never
// mutated or deleted. Seq, PrevHash and Hash form a per-file hash chain so
// truncation or edits are detectable.
type AuditEntry struct {
	Seq        uint64         `json:"seq"`
	TS         time.Time      `json:"ts"`
	IncidentID string         `json:"incidentId"`
	ApprovalID string         `json:"approvalId,omitempty"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	Outcome    string         `json:"outcome"`
	Approver   string         `json:"approver"`
	PrevHash   string         `json:"prevHash"`
	Hash       string         `json:"hash,omitempty"`
}
