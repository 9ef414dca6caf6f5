package slack

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
)

// historyPageSize bounds one poll. Decision traffic is a handful of messages
// per day, so one page is always enough.
const historyPageSize = 50

// DecisionSink resolves a pending approval by id. Implemented by the
// approval gate. Returns false when the id is unknown or already decided.
type DecisionSink interface {
	Resolve(id string, approved bool, decider string) bool
}

// Decision is one parsed APPROVE/REJECT command.
type Decision struct {
	ApprovalID string
	Approved   bool
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// collectMessageText joins a message's text with any attachment text, since
// some clients deliver replies as attachments.
func collectMessageText(msg goslack.Message) string {
	var parts []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	for _, att := range msg.Attachments {
		if att.Text != "" {
			parts = append(parts, att.Text)
		}
		if att.Fallback != "" {
			parts = append(parts, att.Fallback)
		}
	}
	return strings.Join(parts, " ")
}

// ParseDecision extracts an APPROVE/REJECT command from message text.
// Parsing is case-insensitive, but only messages whose first word is the
// verb count; prose that merely mentions the words is ignored. Approval ids
// are lowercase UUIDs, so normalization cannot corrupt them.
func ParseDecision(text string) (Decision, bool) {
	fields := strings.Fields(normalizeText(text))
	if len(fields) < 2 {
		return Decision{}, false
	}
	var approved bool
	switch fields[0] {
	case "approve":
		approved = true
	case "reject":
		approved = false
	default:
		return Decision{}, false
	}
	id := strings.Trim(fields[1], "`<>")
	if id == "" {
		return Decision{}, false
	}
	return Decision{ApprovalID: id, Approved: approved}, true
}

// Listener polls the approval channel for APPROVE/REJECT replies and
// forwards them to the gate. Polling keeps the deployment simple: no public
// callback URL or Socket Mode connection is needed on a homelab network.
type Listener struct {
	client   *Client
	channel  string
	sink     DecisionSink
	interval time.Duration
	logger   *slog.Logger

	lastTS string
}

// NewListener wires a decision listener over an existing client.
func NewListener(client *Client, channel string, sink DecisionSink, interval time.Duration) *Listener {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Listener{
		client:   client,
		channel:  channel,
		sink:     sink,
		interval: interval,
		logger:   slog.Default().With("component", "slack-listener"),
	}
}

// Run polls until ctx is cancelled. Only messages posted after startup are
// considered, so stale commands from a previous run cannot resolve anything.
func (l *Listener) Run(ctx context.Context) {
	l.lastTS = fmt.Sprintf("%d.000000", time.Now().Unix())

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("Slack decision listener started",
		"channel", l.channel,
		"interval", l.interval)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Slack decision listener stopped")
			return
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

// poll reads messages newer than the cursor and applies any decisions.
// Fail-open: API errors are logged and retried on the next tick.
func (l *Listener) poll(ctx context.Context) {
	msgs, err := l.client.History(ctx, l.channel, l.lastTS, historyPageSize)
	if err != nil {
		l.logger.Warn("Failed to read approval channel history", "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	// conversations.history returns newest first. Advance the cursor, then
	// walk oldest first so decisions apply in posting order.
	l.lastTS = msgs[0].Timestamp
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].BotID != "" {
			continue // our own prompts, reminders, and acks
		}
		l.apply(ctx, msgs[i])
	}
}

func (l *Listener) apply(ctx context.Context, msg goslack.Message) {
	decision, ok := ParseDecision(collectMessageText(msg))
	if !ok {
		return
	}
	decider := msg.User
	if decider == "" {
		decider = "unknown"
	}
	if l.sink.Resolve(decision.ApprovalID, decision.Approved, decider) {
		l.logger.Info("Approval decision received",
			"approval_id", decision.ApprovalID,
			"approved", decision.Approved,
			"decider", decider)
		return
	}
	l.logger.Warn("Decision for unknown or already-decided approval",
		"approval_id", decision.ApprovalID,
		"decider", decider)
	l.acknowledgeStale(ctx, msg, decision.ApprovalID)
}

// acknowledgeStale threads a short note onto commands that no longer match a
// pending approval, so the operator is not left wondering. Fail-open.
func (l *Listener) acknowledgeStale(ctx context.Context, msg goslack.Message, approvalID string) {
	text := fmt.Sprintf(":information_source: No pending approval `%s` — it may have expired or already been decided.", approvalID)
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	if err := l.client.PostMessage(ctx, l.channel, blocks, msg.Timestamp, 5*time.Second); err != nil {
		l.logger.Warn("Failed to acknowledge stale decision", "error", err)
	}
}
