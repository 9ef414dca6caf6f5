package slack

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"

	"github.com/homelab-ops/warden/pkg/models"
)

const maxBlockTextLength = 2900

var outcomeEmoji = map[models.Outcome]string{
	models.OutcomeResolved:  ":white_check_mark:",
	models.OutcomeEscalated: ":rotating_light:",
	models.OutcomeFailed:    ":x:",
	models.OutcomeNoop:      ":information_source:",
}

var outcomeLabel = map[models.Outcome]string{
	models.OutcomeResolved:  "Incident Resolved",
	models.OutcomeEscalated: "Incident Escalated",
	models.OutcomeFailed:    "Incident Failed",
	models.OutcomeNoop:      "No Action Needed",
}

// BuildApprovalPrompt creates Block Kit blocks for one approval request.
// The id in the reply instructions is the correlation token the listener
// matches back to the blocked tool call.
func BuildApprovalPrompt(req *models.ApprovalRequest) []goslack.Block {
	header := fmt.Sprintf(":shield: *Approval required* — `%s`", req.Tool)
	if req.Severity == models.ApprovalSeverityCritical {
		header = fmt.Sprintf(":rotating_light: *CRITICAL* %s", header)
	}

	body := fmt.Sprintf("Incident `%s` wants to run `%s`:\n```%s```",
		req.IncidentID, req.Tool, truncateForSlack(formatArgs(req.Args)))

	instructions := fmt.Sprintf("Reply `APPROVE %s` or `REJECT %s` in this channel.\nExpires %s — no response denies the request.",
		req.ID, req.ID, req.TimeoutAt.UTC().Format(time.RFC3339))

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, body, false, false),
			nil, nil,
		),
		goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, instructions, false, false),
		),
	}
}

// BuildApprovalReminder creates blocks nudging the channel about a pending
// request.
func BuildApprovalReminder(req *models.ApprovalRequest, remaining time.Duration) []goslack.Block {
	text := fmt.Sprintf(":hourglass_flowing_sand: Approval `%s` for `%s` is still pending — %s left before automatic denial.\nReply `APPROVE %s` or `REJECT %s`.",
		req.ID, req.Tool, remaining.Round(time.Second), req.ID, req.ID)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// BuildIncidentReport creates blocks for a terminal incident notification.
func BuildIncidentReport(inc *models.Incident) []goslack.Block {
	emoji := outcomeEmoji[inc.Outcome]
	if emoji == "" {
		emoji = ":question:"
	}
	label := outcomeLabel[inc.Outcome]
	if label == "" {
		label = "Incident " + string(inc.Outcome)
	}

	header := fmt.Sprintf("%s *%s* — `%s` (%s)", emoji, label, inc.Alert.Name(), inc.Severity)

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
		nil, nil,
	))

	if inc.Summary != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(inc.Summary), false, false),
			nil, nil,
		))
	}

	footer := fmt.Sprintf("`%s` · %s · %d tool call(s) · $%.4f",
		inc.ID, inc.Duration().Round(time.Second), len(inc.ToolsUsed), inc.LLMCost.USD)
	blocks = append(blocks, goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType, footer, false, false),
	))

	return blocks
}

// BuildStatsReport creates blocks for a scheduled daily or weekly summary.
func BuildStatsReport(title string, stats *models.MemoryStats) []goslack.Block {
	header := fmt.Sprintf(":bar_chart: *%s*", title)

	var b strings.Builder
	fmt.Fprintf(&b, "Incidents on record: *%d*\n", stats.Count)
	fmt.Fprintf(&b, "Success rate: *%.0f%%*\n", stats.SuccessRate*100)
	fmt.Fprintf(&b, "Average duration: *%s*\n", (time.Duration(stats.AvgDurationSeconds * float64(time.Second))).Round(time.Second))
	fmt.Fprintf(&b, "LLM spend: *$%.2f*", stats.TotalCostUSD)

	if len(stats.BySeverity) > 0 {
		severities := make([]string, 0, len(stats.BySeverity))
		for severity := range stats.BySeverity {
			severities = append(severities, severity)
		}
		sort.Strings(severities)

		parts := make([]string, 0, len(severities))
		for _, severity := range severities {
			parts = append(parts, fmt.Sprintf("%s %d", severity, stats.BySeverity[severity]))
		}
		fmt.Fprintf(&b, "\nBy severity: %s", strings.Join(parts, " · "))
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, b.String(), false, false),
			nil, nil,
		),
	}
}

// formatArgs renders tool arguments one per line with stable key order.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "(no arguments)"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %v", k, args[k])
	}
	return b.String()
}

func truncateForSlack(text string) string {
	if utf8.RuneCountInString(text) <= maxBlockTextLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated)_"
}
