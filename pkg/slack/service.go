// Package slack delivers approval prompts, incident reports, and scheduled
// summaries, and listens for APPROVE/REJECT commands in the approval
// channel.
package slack

import (
	"context"
	"errors"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/homelab-ops/warden/pkg/config"
	"github.com/homelab-ops/warden/pkg/models"
)

// ErrDisabled is returned for approval traffic when Slack is not
// configured. The gate maps it to an errored (denied) decision, so a
// chat-less deployment cannot silently approve critical mutations.
var ErrDisabled = errors.New("slack notifications disabled")

// Service handles Slack delivery. Nil-safe: notification methods are no-ops
// and approval methods return ErrDisabled when the service is nil, which is
// the case when slack.enabled is false.
type Service struct {
	client          *Client
	approvalChannel string
	notifyChannel   string
	logger          *slog.Logger
}

// NewService creates the Slack service, or nil when disabled or missing
// credentials.
func NewService(cfg *config.SlackConfig) *Service {
	if cfg == nil || !cfg.Enabled || cfg.Token == "" || cfg.ApprovalChannel == "" {
		return nil
	}
	return &Service{
		client:          NewClient(cfg.Token),
		approvalChannel: cfg.ApprovalChannel,
		notifyChannel:   cfg.NotifyChannel,
		logger:          slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, approvalChannel, notifyChannel string) *Service {
	return &Service{
		client:          client,
		approvalChannel: approvalChannel,
		notifyChannel:   notifyChannel,
		logger:          slog.Default().With("component", "slack-service"),
	}
}

// Client exposes the underlying API client so the decision listener can
// share it. Nil when the service is disabled.
func (s *Service) Client() *Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Enabled reports whether Slack delivery is configured.
func (s *Service) Enabled() bool {
	return s != nil
}

// PostApprovalPrompt publishes one approval request to the approval channel.
// Errors propagate: the gate denies when the prompt cannot be delivered.
func (s *Service) PostApprovalPrompt(ctx context.Context, req *models.ApprovalRequest) error {
	if s == nil {
		return ErrDisabled
	}
	blocks := BuildApprovalPrompt(req)
	return s.client.PostMessage(ctx, s.approvalChannel, blocks, "", 5*time.Second)
}

// PostApprovalReminder nudges the approval channel about a pending request.
func (s *Service) PostApprovalReminder(ctx context.Context, req *models.ApprovalRequest, remaining time.Duration) error {
	if s == nil {
		return ErrDisabled
	}
	blocks := BuildApprovalReminder(req, remaining)
	return s.client.PostMessage(ctx, s.approvalChannel, blocks, "", 5*time.Second)
}

// NotifyIncident posts a terminal incident report to the notify channel.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyIncident(ctx context.Context, inc *models.Incident) {
	if s == nil {
		return
	}
	blocks := BuildIncidentReport(inc)
	if err := s.client.PostMessage(ctx, s.notifyChannel, blocks, "", 10*time.Second); err != nil {
		s.logger.Error("Failed to send incident report",
			"incident_id", inc.ID,
			"outcome", inc.Outcome,
			"error", err)
	}
}

// PostStatsReport posts a scheduled summary to the notify channel.
// Fail-open: errors are logged, never returned.
func (s *Service) PostStatsReport(ctx context.Context, title string, stats *models.MemoryStats) {
	if s == nil {
		return
	}
	blocks := BuildStatsReport(title, stats)
	if err := s.client.PostMessage(ctx, s.notifyChannel, blocks, "", 10*time.Second); err != nil {
		s.logger.Error("Failed to send stats report",
			"title", title,
			"error", err)
	}
}

// SendChatMessage posts free text to the notify channel on behalf of the
// Communicator's send_chat_message tool. With Slack disabled the message
// lands in the process log instead, so the tool still succeeds in dev
// profiles.
func (s *Service) SendChatMessage(ctx context.Context, text string) error {
	if s == nil {
		slog.Info("Chat message (slack disabled)", "text", text)
		return nil
	}
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(text), false, false),
			nil, nil,
		),
	}
	return s.client.PostMessage(ctx, s.notifyChannel, blocks, "", 5*time.Second)
}
