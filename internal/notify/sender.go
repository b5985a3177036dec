package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/shared/webhook"
)

// Notification is what a guest receives once their result is ready
type Notification struct {
	ProjectID   string          `json:"project_id"`
	SessionID   string          `json:"session_id"`
	JobID       string          `json:"job_id,omitempty"`
	Address     string          `json:"address"`
	ResultMedia domain.MediaRef `json:"result_media"`
}

// Sender delivers a notification
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ctx context.Context, n Notification) error

// Send calls f(ctx, n)
func (f SenderFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// WebhookSender posts notifications to a mail relay
type WebhookSender struct {
	client *webhook.Client
}

// NewWebhookSender creates a sender posting to url
func NewWebhookSender(url string, timeout time.Duration, opts ...webhook.Option) *WebhookSender {
	return &WebhookSender{client: webhook.New(url, timeout, opts...)}
}

func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	return s.client.Post(ctx, n, nil)
}

// LogSender only logs notifications. Used when no relay is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("Notification (no relay configured)",
		slog.String("session_id", n.SessionID),
		slog.String("address", n.Address),
		slog.String("result_url", n.ResultMedia.URL),
	)
	return nil
}
