// Package notify implements ambient operational alerting (§6.2): the
// queue worker calls a Notifier when a job terminates FAILED, so an
// operator watching the channel learns about a repeatedly-failing drop
// without polling metrics.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/cuemby/docuflow/pkg/log"
)

// Notifier reports an operational event to whatever channel the
// deployment configures.
type Notifier interface {
	NotifyJobFailed(ctx context.Context, jobID, tenantID, reason string) error
}

// SlackNotifier posts job failures to a configured Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier constructs a SlackNotifier posting to channel using
// botToken for authentication.
func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
	}
}

// NotifyJobFailed posts a message describing the failed job. Errors are
// returned to the caller (the queue worker), which logs and continues;
// a Slack outage must never block job processing.
func (n *SlackNotifier) NotifyJobFailed(ctx context.Context, jobID, tenantID, reason string) error {
	text := fmt.Sprintf(":warning: job `%s` (tenant `%s`) failed: %s", jobID, tenantID, reason)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	return err
}

// NoopNotifier discards every notification; used when no Slack channel
// is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyJobFailed(context.Context, string, string, string) error {
	log.WithComponent("notify").Debug().Msg("job failure notification suppressed, no notifier configured")
	return nil
}
