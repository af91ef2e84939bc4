package slackbot

import (
	"context"
	"time"

	"supportloop/internal/logger"

	"github.com/slack-go/slack"
)

const broadcastTimeout = 15 * time.Second

// Notifier is the outbound summary channel. Delivery failures are the
// caller's to log; they never block the pipeline.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type SlackNotifier struct {
	api     *slack.Client
	channel string
}

func NewSlackNotifier(token, channelID string, options ...slack.Option) *SlackNotifier {
	return &SlackNotifier{api: slack.New(token, options...), channel: channelID}
}

func (n *SlackNotifier) Notify(ctx context.Context, text string) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	return err
}

// Nop drops every message; used when Slack is not configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Broadcast sends text in the background and only logs failures.
func Broadcast(n Notifier, text string) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
		defer cancel()
		if err := n.Notify(ctx, text); err != nil {
			logger.Log.Warnf("notify error: %v", err)
		}
	}()
}
