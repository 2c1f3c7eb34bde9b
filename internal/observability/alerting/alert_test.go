package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "Plugweave/internal/errors"
)

type fakeEmailSender struct {
	subject string
	content string
	to      []string
	err     error
}

func (s *fakeEmailSender) Send(_ context.Context, subject, content string, to []string) error {
	s.subject, s.content, s.to = subject, content, to
	return s.err
}

type fakeSlackSender struct {
	channel string
	content string
}

func (s *fakeSlackSender) Send(_ context.Context, channel, content string) error {
	s.channel, s.content = channel, content
	return nil
}

type fakeWebhookSender struct {
	payloads []any
	err      error
}

func (s *fakeWebhookSender) Send(_ context.Context, payload any) error {
	s.payloads = append(s.payloads, payload)
	return s.err
}

func testEvent() Event {
	return Event{
		Code:       xerrors.CodeBlocked,
		Message:    "confidence score below the admission floor",
		Severity:   xerrors.SeverityWarning,
		PluginID:   "risky",
		ChainID:    "chain-1",
		Metadata:   map[string]string{"risk_level": "low"},
		OccurredAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	email := &fakeEmailSender{}
	slack := &fakeSlackSender{}
	webhook := &fakeWebhookSender{}
	dispatcher := NewFanout(
		&EmailNotifier{Sender: email, To: []string{"ops@example.com"}, SubjectPrefix: "[plugweave] "},
		&SlackNotifier{Sender: slack, ChannelID: "#alerts"},
		&WebhookNotifier{Sender: webhook},
		nil,
	)

	if err := dispatcher.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(email.subject, string(xerrors.CodeBlocked)) || email.to[0] != "ops@example.com" {
		t.Fatalf("email = subject %q to %v", email.subject, email.to)
	}
	if !strings.Contains(email.content, "plugin: risky") || !strings.Contains(email.content, "chain: chain-1") {
		t.Fatalf("email content = %q", email.content)
	}
	if slack.channel != "#alerts" || !strings.Contains(slack.content, "risky") {
		t.Fatalf("slack = channel %q content %q", slack.channel, slack.content)
	}
	if len(webhook.payloads) != 1 {
		t.Fatalf("webhook payloads = %d, want 1", len(webhook.payloads))
	}
	payload, ok := webhook.payloads[0].(map[string]any)
	if !ok || payload["plugin_id"] != "risky" || payload["chain_id"] != "chain-1" {
		t.Fatalf("webhook payload = %#v", webhook.payloads[0])
	}
}

func TestFanoutJoinsChannelFailures(t *testing.T) {
	boom := errors.New("smtp relay refused")
	email := &fakeEmailSender{err: boom}
	webhook := &fakeWebhookSender{}
	dispatcher := NewFanout(
		&EmailNotifier{Sender: email, To: []string{"ops@example.com"}},
		&WebhookNotifier{Sender: webhook},
	)

	err := dispatcher.Notify(context.Background(), testEvent())
	if err == nil || !strings.Contains(err.Error(), "email") {
		t.Fatalf("error = %v, want the failed channel named", err)
	}
	// The healthy channel still got the event.
	if len(webhook.payloads) != 1 {
		t.Fatalf("webhook payloads = %d, want 1", len(webhook.payloads))
	}
}

func TestUnconfiguredNotifiersSkip(t *testing.T) {
	dispatcher := NewFanout(&EmailNotifier{}, &SlackNotifier{}, &WebhookNotifier{})
	if err := dispatcher.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

func TestHTTPWebhookSender(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPWebhookSender(server.URL)
	if err := sender.Send(context.Background(), map[string]any{"code": "BLOCKED"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["code"] != "BLOCKED" {
		t.Fatalf("delivered payload = %v", got)
	}
}

func TestHTTPWebhookSenderRejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewHTTPWebhookSender(server.URL)
	if err := sender.Send(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestSlackWebhookSender(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
	}))
	defer server.Close()

	sender := NewSlackWebhookSender(server.URL)
	if err := sender.Send(context.Background(), "#alerts", "chain-1 blocked"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["text"] != "chain-1 blocked" || got["channel"] != "#alerts" {
		t.Fatalf("slack payload = %v", got)
	}
}
