// Package notify provides notifier sinks for critical worker events.
package notify

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/fairyhunter13/subfleet/internal/domain"
	obsctx "github.com/fairyhunter13/subfleet/internal/observability"
)

// fillAccount defaults the notification's account to the one the processing
// pipeline stored on the context, so call sites deep in the stack do not
// have to thread the email through explicitly.
func fillAccount(ctx context.Context, n domain.Notification) domain.Notification {
	if n.Email == "" {
		n.Email = obsctx.AccountFromContext(ctx)
	}
	return n
}

// LogNotifier writes notifications to the process log. Always available;
// the fallback sink when no webhook is configured.
type LogNotifier struct{}

// Notify logs the notification at a level matching its severity.
func (LogNotifier) Notify(ctx context.Context, n domain.Notification) {
	n = fillAccount(ctx, n)
	attrs := []any{
		slog.String("severity", string(n.Severity)),
		slog.String("title", n.Title),
		slog.String("email", n.Email),
		slog.String("message", n.Message),
	}
	if n.Severity == domain.SeverityCritical {
		slog.Error("notification", attrs...)
		return
	}
	slog.Warn("notification", attrs...)
}

// SlackNotifier pushes notifications to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
}

// NewSlack constructs a SlackNotifier.
func NewSlack(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

// Notify posts the notification; delivery failures are logged, never
// propagated — a dead sink must not stall the worker.
func (s *SlackNotifier) Notify(ctx context.Context, n domain.Notification) {
	n = fillAccount(ctx, n)
	icon := ":warning:"
	if n.Severity == domain.SeverityCritical {
		icon = ":rotating_light:"
	}
	text := icon + " *" + n.Title + "*"
	if n.Email != "" {
		text += "\naccount: `" + n.Email + "`"
	}
	if n.Message != "" {
		text += "\n" + n.Message
	}
	msg := &slack.WebhookMessage{Text: text}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		slog.Error("slack notification failed", slog.Any("error", err), slog.String("title", n.Title))
	}
}

// Multi fans a notification out to several sinks.
type Multi []domain.Notifier

// Notify delivers to every sink in order.
func (m Multi) Notify(ctx context.Context, n domain.Notification) {
	for _, s := range m {
		s.Notify(ctx, n)
	}
}
