package agent

import (
	"fmt"
	"strings"

	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/tools"
)

// monitorPreamble is the system prompt for the Monitor stage.
const monitorPreamble = `## Homelab Monitor Instructions

You are the monitoring agent of an autonomous homelab incident responder.
Your job is to confirm whether an incoming alert reflects a real problem and
to scope it: which host, service, or container is affected, and how badly.

Rules:
- Use only the read-only probes you are given. Never guess probe output.
- Prefer one or two targeted probes over broad sweeps.
- If a probe fails, note the failure and continue with what you have.

When you are done, reply without calling any tool. State in a few sentences
what you observed, whether the alert is confirmed, and what is affected.`

// analystPreamble is the system prompt for the Analyst stage.
const analystPreamble = `## Homelab Analyst Instructions

You are the diagnosis agent of an autonomous homelab incident responder.
Your job is to find the most likely root cause of a confirmed incident,
using read-only probes, the monitor's findings, and records of similar past
incidents when provided.

Rules:
- Weigh similar past incidents: if the same fingerprint was fixed before,
  say what worked then.
- Use the memory_similar tool if you need more historical context than was
  attached.
- Distinguish symptoms from causes. Name the component you believe is at
  fault.

When you are done, reply without calling any tool. The FIRST line of your
reply must be exactly one of:
classification: benign
classification: actionable
Then explain the root cause and, if actionable, what remediation you
recommend.`

// healerPreamble is the system prompt for the Healer stage.
const healerPreamble = `## Homelab Healer Instructions

You are the remediation agent of an autonomous homelab incident responder.
Your job is to fix the diagnosed problem using the remediation tools you are
given, verifying with read-only probes where useful.

Rules:
- Execute the analyst's recommended remediation unless probes contradict it.
- Mutating tools may require human approval and can be denied. A denied
  action must NOT be retried; choose a different approach or stop.
- Prefer the smallest action that fixes the problem. One service restart
  beats a host reboot.
- Verify the fix with a read-only probe when one is available.

When you are done, reply without calling any tool. State what you did, what
was denied or failed, and whether the problem is fixed.`

// communicatorPreamble is the system prompt for the Communicator stage.
const communicatorPreamble = `## Homelab Communicator Instructions

You are the reporting agent of an autonomous homelab incident responder.
Your job is to tell the humans what happened, in one concise chat message.

Rules:
- Call send_chat_message exactly once with the full report as the message.
- Cover: what alerted, what was found, what was done, current state, and
  anything a human still needs to do (include approval ids for escalations).
- Write for a homelab operator reading on a phone. No markdown tables.

After the message is sent, reply without calling any tool, summarising the
incident outcome in one or two sentences.`

// preambleFor returns the system prompt for a stage.
func preambleFor(stage models.StageName) string {
	switch stage {
	case models.StageMonitor:
		return monitorPreamble
	case models.StageAnalyst:
		return analystPreamble
	case models.StageHealer:
		return healerPreamble
	case models.StageCommunicator:
		return communicatorPreamble
	default:
		return ""
	}
}

// roleAllows is the per-stage tool allow-list. Monitor sees read-only probes;
// Analyst adds incident memory; Healer sees probes and mutations; the
// Communicator sees only the chat tool. The chat tool is reserved for the
// Communicator so remediation stages cannot talk to humans directly.
func roleAllows(stage models.StageName, t *tools.Tool) bool {
	switch stage {
	case models.StageMonitor:
		return t.Risk == tools.RiskRead && t.Family != tools.FamilyMemory && t.Family != tools.FamilyChat
	case models.StageAnalyst:
		return t.Risk == tools.RiskRead && t.Family != tools.FamilyChat
	case models.StageHealer:
		return t.Family != tools.FamilyChat && t.Family != tools.FamilyMemory
	case models.StageCommunicator:
		return t.Family == tools.FamilyChat
	default:
		return false
	}
}

// classificationPrefix is what the Analyst is instructed to lead with.
const classificationPrefix = "classification:"

// IsBenignVerdict reports whether an Analyst verdict classified the incident
// as benign. The pipeline uses this to skip remediation. Anything that does
// not follow the instructed format counts as actionable; remediation is the
// safer default because the Healer still passes through the approval gate.
func IsBenignVerdict(verdict string) bool {
	for _, line := range strings.Split(verdict, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, classificationPrefix); ok {
			return strings.TrimSpace(rest) == "benign"
		}
		return false
	}
	return false
}

// fallbackMonitorVerdict is the deterministic Monitor output used when the
// LLM is unavailable: pass the raw alert through unverified so diagnosis can
// still proceed.
func fallbackMonitorVerdict(inc *models.Incident) string {
	return fmt.Sprintf("Monitoring unavailable; alert passed through unverified. %s", inc.Alert.Description())
}

// fallbackReport is the deterministic Communicator message used when the LLM
// is unavailable. It is sent through the chat tool directly.
func fallbackReport(inc *models.Incident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident %s (%s, severity %s)", inc.ID, inc.Alert.Name(), inc.Severity)
	if inc.Outcome != "" {
		fmt.Fprintf(&b, " ended %s.", inc.Outcome)
	} else {
		b.WriteString(" is being processed.")
	}
	if out, ok := inc.StageOutput(models.StageAnalyst); ok && out.Verdict != "" {
		fmt.Fprintf(&b, " Diagnosis: %s", verdictSummary(out.Verdict))
	}
	if out, ok := inc.StageOutput(models.StageHealer); ok && out.Verdict != "" {
		fmt.Fprintf(&b, " Remediation: %s", verdictSummary(out.Verdict))
	}
	return b.String()
}

// verdictSummary returns the first meaningful line of a verdict, skipping
// the Analyst's classification marker.
func verdictSummary(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), classificationPrefix) {
			continue
		}
		return line
	}
	return strings.TrimSpace(s)
}
