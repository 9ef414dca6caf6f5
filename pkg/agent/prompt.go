package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/homelab-ops/warden/pkg/models"
	"github.com/homelab-ops/warden/pkg/tools"
)

// formatIncidentSection renders the incident header every stage receives.
func formatIncidentSection(inc *models.Incident) string {
	var sb strings.Builder
	sb.WriteString("## Incident\n\n")
	fmt.Fprintf(&sb, "**Id:** %s\n", inc.ID)
	fmt.Fprintf(&sb, "**Severity:** %s\n", inc.Severity)
	fmt.Fprintf(&sb, "**Received:** %s\n", inc.ReceivedAt.UTC().Format(time.RFC3339))
	if n := len(inc.Alerts); n > 1 {
		fmt.Fprintf(&sb, "**Duplicate alerts merged:** %d\n", n-1)
	}
	if prev := inc.Alert.Annotations[models.AnnotationPreviousIncident]; prev != "" {
		fmt.Fprintf(&sb, "**Reopened after incident:** %s\n", prev)
	}

	sb.WriteString("\n### Alert\n")
	sb.WriteString(inc.Alert.Description())
	sb.WriteString("\n")
	return sb.String()
}

// formatFindingsSection renders what earlier stages concluded.
func formatFindingsSection(inc *models.Incident) string {
	if len(inc.StageOutputs) == 0 {
		return "## Findings So Far\nThis is the first stage; no prior findings.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Findings So Far\n")
	for _, out := range inc.StageOutputs {
		fmt.Fprintf(&sb, "\n### %s\n", titleCase(string(out.Stage)))
		if out.Verdict != "" {
			sb.WriteString(out.Verdict)
			sb.WriteString("\n")
		} else {
			sb.WriteString("(no verdict)\n")
		}
		if out.ToolCallCount > 0 {
			fmt.Fprintf(&sb, "(%d tool call(s))\n", out.ToolCallCount)
		}
		for _, e := range out.Errors {
			fmt.Fprintf(&sb, "(error %s: %s)\n", e.Kind, e.Message)
		}
	}
	return sb.String()
}

// formatHistorySection renders similar past incidents for the Analyst.
func formatHistorySection(records []models.ScoredRecord) string {
	if len(records) == 0 {
		return "## Similar Past Incidents\nNo similar incidents on record.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Similar Past Incidents\n")
	sb.WriteString("Most similar first. Scores are cosine similarity in [0, 1].\n")
	for _, r := range records {
		p := r.Record.Payload
		name := p.Labels["alertname"]
		if name == "" {
			name = p.Fingerprint
		}
		fmt.Fprintf(&sb, "\n### %s (similarity %.2f)\n", name, r.Score)
		fmt.Fprintf(&sb, "**Outcome:** %s after %s", p.Outcome, (time.Duration(p.DurationSeconds * float64(time.Second))).Round(time.Second))
		if len(p.ToolsUsed) > 0 {
			fmt.Fprintf(&sb, " using %s", strings.Join(p.ToolsUsed, ", "))
		}
		sb.WriteString("\n")
		for _, stage := range models.Stages() {
			if summary := p.StageSummaries[string(stage)]; summary != "" {
				fmt.Fprintf(&sb, "**%s:** %s\n", titleCase(string(stage)), verdictSummary(summary))
			}
		}
	}
	return sb.String()
}

// titleCase capitalises an ASCII stage name for a section heading.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatToolsSection lists the tools offered to this stage. The structured
// definitions go to the API separately; this section gives the model usage
// context the schema cannot carry.
func formatToolsSection(list []*tools.Tool) string {
	if len(list) == 0 {
		return "## Available Tools\nNo tools are available; reply with your conclusion directly.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Available Tools\n")
	for _, t := range list {
		fmt.Fprintf(&sb, "- `%s` (%s): %s\n", t.Name, t.Risk, t.Description)
	}
	return sb.String()
}

// buildUserMessage assembles the opening user message for one stage.
func buildUserMessage(stage models.StageName, inc *models.Incident, history []models.ScoredRecord, toolset []*tools.Tool) string {
	sections := []string{
		formatIncidentSection(inc),
		formatFindingsSection(inc),
	}
	if stage == models.StageAnalyst {
		sections = append(sections, formatHistorySection(history))
	}
	sections = append(sections, formatToolsSection(toolset))
	sections = append(sections, taskFor(stage))

	return strings.Join(sections, "\n")
}

// taskFor closes the user message with the stage's imperative.
func taskFor(stage models.StageName) string {
	switch stage {
	case models.StageMonitor:
		return "## Task\nConfirm and scope this alert now."
	case models.StageAnalyst:
		return "## Task\nDiagnose the root cause now. Remember to lead your final reply with the classification line."
	case models.StageHealer:
		return "## Task\nRemediate the diagnosed problem now."
	case models.StageCommunicator:
		return "## Task\nReport this incident to the operators now."
	default:
		return ""
	}
}
