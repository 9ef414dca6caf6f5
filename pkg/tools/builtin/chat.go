package builtin

import (
	"context"
	"fmt"

	"github.com/homelab-ops/warden/pkg/tools"
)

// ChatPoster posts operator-facing chat lines. The slack service implements
// it and logs the text instead when Slack is disabled.
type ChatPoster interface {
	SendChatMessage(ctx context.Context, text string) error
}

// SendChatMessage is the Communicator's reporting tool. It is classified as
// a non-critical mutation: every posted report is audited, and dry-run
// records the message without posting it.
func SendChatMessage(chat ChatPoster) *tools.Tool {
	return &tools.Tool{
		Name:        "send_chat_message",
		Description: "Send a chat message to the operators' notification channel.",
		Params: []tools.Param{
			{Name: "message", Type: tools.TypeString, Required: true, Description: "Full message text to post"},
		},
		Risk:    tools.RiskMutateNonCritical,
		Family:  tools.FamilyChat,
		Handler: sendChatMessageHandler(chat),
	}
}

func sendChatMessageHandler(chat ChatPoster) tools.Handler {
	return func(ctx context.Context, _ *tools.ExecContext, args map[string]any) (string, error) {
		message := stringArg(args, "message")
		if message == "" {
			return "", fmt.Errorf("message must not be empty")
		}
		if err := chat.SendChatMessage(ctx, message); err != nil {
			return "", fmt.Errorf("send message: %w", err)
		}
		return "message delivered", nil
	}
}
