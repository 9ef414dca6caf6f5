// Package tools holds the tool registry the agent stages draw from. Tools
// are registered once at startup; invocation routes mutating calls through
// the approval gate and records every call on the owning incident.
package tools

import (
	"context"
	"time"
)

// Risk classifies what a tool may do to the world.
type Risk string

const (
	// RiskRead is a side-effect-free probe.
	RiskRead Risk = "read"
	// RiskMutateNonCritical mutates state outside the critical-target set.
	RiskMutateNonCritical Risk = "mutate_noncritical"
	// RiskMutateCriticalCandidate may hit a critical target; the gate decides
	// per call by matching arguments against the configured target table.
	RiskMutateCriticalCandidate Risk = "mutate_critical_candidate"
)

// IsValid checks if the risk class is valid
func (r Risk) IsValid() bool {
	switch r {
	case RiskRead, RiskMutateNonCritical, RiskMutateCriticalCandidate:
		return true
	default:
		return false
	}
}

// Mutating reports whether invocations must pass the approval gate.
func (r Risk) Mutating() bool {
	return r == RiskMutateNonCritical || r == RiskMutateCriticalCandidate
}

// Tool families. Critical-target matching and keyed locking key on these;
// the agent allow-lists key on memory and chat.
const (
	FamilyLXC        = "lxc"
	FamilyDatabases  = "databases"
	FamilyContainers = "containers"
	FamilyNetwork    = "network"
	FamilyMemory     = "memory"
	FamilyChat       = "chat"
)

// ParamType is the JSON-schema type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// IsValid checks if the parameter type is valid
func (t ParamType) IsValid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	default:
		return false
	}
}

// Param describes one tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
}

// Handler executes the tool. It receives validated arguments and returns
// text for the conversation. Errors become error-flagged results, not
// aborted stages.
type Handler func(ctx context.Context, ec *ExecContext, args map[string]any) (string, error)

// Tool is one registered capability.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Risk        Risk

	// Family groups tools for critical-target matching and per-target
	// locking (containers, databases, lxc, network, memory, chat).
	Family string

	// TargetFamily resolves the critical-target family for one invocation
	// when it depends on the arguments. webhook_trigger sets it because
	// each configured webhook names its own family; nil means the static
	// Family applies to every call.
	TargetFamily func(args map[string]any) string

	// ApprovalTimeout overrides the configured approval wait for this tool.
	// Zero means the gate's default applies.
	ApprovalTimeout time.Duration

	Handler Handler
}

// Schema renders the parameters as a JSON-schema object for LLM tool
// definitions.
func (t *Tool) Schema() map[string]any {
	props := make(map[string]any, len(t.Params))
	var required []string
	for _, p := range t.Params {
		props[p.Name] = map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
