package slack

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"
)

// Client is a thin wrapper around the slack-go SDK. Channel ids are passed
// per call because approval prompts and incident reports may go to
// different channels.
type Client struct {
	api *goslack.Client
}

// NewClient creates a new Slack API client.
func NewClient(token string) *Client {
	return &Client{api: goslack.New(token)}
}

// NewClientWithAPIURL creates a Slack API client that targets a custom API
// URL. Useful for testing with a mock server.
func NewClientWithAPIURL(token, apiURL string) *Client {
	return &Client{api: goslack.New(token, goslack.OptionAPIURL(apiURL))}
}

// PostMessage sends Block Kit blocks to a channel. If threadTS is non-empty,
// the message is posted as a threaded reply.
func (c *Client) PostMessage(ctx context.Context, channelID string, blocks []goslack.Block, threadTS string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	_, _, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}

// History returns channel messages newer than oldest (a Slack message
// timestamp), newest first, up to limit.
func (c *Client) History(ctx context.Context, channelID, oldest string, limit int) ([]goslack.Message, error) {
	params := &goslack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    oldest,
		Limit:     limit,
	}
	history, err := c.api.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("conversations.history failed: %w", err)
	}
	return history.Messages, nil
}
