package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPWebhookSender posts alert payloads as JSON to a fixed endpoint.
type HTTPWebhookSender struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPWebhookSender creates a sender with a bounded request timeout.
func NewHTTPWebhookSender(endpoint string) *HTTPWebhookSender {
	return &HTTPWebhookSender{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements WebhookSender.
func (s *HTTPWebhookSender) Send(ctx context.Context, payload any) error {
	return postJSON(ctx, s.Client, s.Endpoint, payload)
}

// SlackWebhookSender delivers messages through a Slack incoming webhook.
type SlackWebhookSender struct {
	WebhookURL string
	Client     *http.Client
}

// NewSlackWebhookSender creates a sender for the given incoming webhook.
func NewSlackWebhookSender(webhookURL string) *SlackWebhookSender {
	return &SlackWebhookSender{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements SlackSender. Incoming webhooks are bound to a channel at
// creation; the channel argument only overrides it when set.
func (s *SlackWebhookSender) Send(ctx context.Context, channel, content string) error {
	payload := map[string]string{"text": content}
	if channel != "" {
		payload["channel"] = channel
	}
	return postJSON(ctx, s.Client, s.WebhookURL, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("alert endpoint returned %s", resp.Status)
	}
	return nil
}
