package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "Plugweave/internal/errors"
	"Plugweave/pkg/logger"
)

// Channel identifies a notification channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
)

// Event describes one condition worth alerting on: a plugin blocked at build
// time or a chain that failed terminally.
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	PluginID   string
	ChainID    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier delivers events to one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts events to every configured notifier.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher delivers each event to all registered notifiers.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout builds a dispatcher over the given notifiers. Nil notifiers are
// skipped; a later notifier on the same channel replaces an earlier one.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify broadcasts the event. Per-channel failures are joined so one broken
// channel never hides the others.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EmailSender is the outbound mail capability.
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier delivers alerts by mail.
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

// Channel implements Notifier.
func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify implements Notifier.
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("email notifier not configured, skipping", slog.String("chain_id", event.ChainID))
		return nil
	}
	subject := fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Code)
	content := fmt.Sprintf("time: %s\nplugin: %s\nchain: %s\ncode: %s\nmessage: %s",
		event.OccurredAt.Format(time.RFC3339), event.PluginID, event.ChainID, event.Code, event.Message)
	if len(event.Metadata) > 0 {
		content += "\ndetails:\n"
		for k, v := range event.Metadata {
			content += fmt.Sprintf("- %s: %s\n", k, v)
		}
	}
	return n.Sender.Send(ctx, subject, content, n.To)
}

// SlackSender posts a message to a Slack channel.
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier delivers alerts to Slack.
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// Channel implements Notifier.
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("slack notifier not configured, skipping", slog.String("chain_id", event.ChainID))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - %s (plugin %s, chain %s)",
		event.Severity, event.Code, event.Message, event.PluginID, event.ChainID)
	return n.Sender.Send(ctx, n.ChannelID, content)
}

// WebhookSender posts a JSON payload to an HTTP endpoint.
type WebhookSender interface {
	Send(ctx context.Context, payload any) error
}

// WebhookNotifier delivers alerts to a generic webhook.
type WebhookNotifier struct {
	Sender WebhookSender
}

// Channel implements Notifier.
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("webhook notifier not configured, skipping", slog.String("chain_id", event.ChainID))
		return nil
	}
	return n.Sender.Send(ctx, map[string]any{
		"code":        string(event.Code),
		"message":     event.Message,
		"severity":    string(event.Severity),
		"plugin_id":   event.PluginID,
		"chain_id":    event.ChainID,
		"metadata":    event.Metadata,
		"occurred_at": event.OccurredAt.Format(time.RFC3339),
	})
}
