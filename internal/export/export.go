// Package export publishes the output of completed jobs to a downstream system.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/cuongbtq/transform-pipeline/shared/webhook"
)

// Export is the record sent downstream for one completed job
type Export struct {
	JobID         string          `json:"job_id"`
	SessionID     string          `json:"session_id"`
	ProjectID     string          `json:"project_id"`
	ExperienceID  string          `json:"experience_id"`
	ConfigVersion int             `json:"config_version"`
	Output        domain.MediaRef `json:"output"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// Dispatcher delivers exports
type Dispatcher interface {
	Dispatch(ctx context.Context, e Export) error
}

// WebhookDispatcher posts exports to a webhook
type WebhookDispatcher struct {
	client *webhook.Client
}

// NewWebhookDispatcher creates a dispatcher posting to url
func NewWebhookDispatcher(url string, timeout time.Duration, opts ...webhook.Option) *WebhookDispatcher {
	return &WebhookDispatcher{client: webhook.New(url, timeout, opts...)}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, e Export) error {
	return d.client.Post(ctx, e, nil)
}

// NoopDispatcher drops exports. Used when export is disabled.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(context.Context, Export) error { return nil }

// Store is the job persistence the handler needs
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// Handler processes dispatch-export tasks
type Handler struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewHandler creates a new export Handler
func NewHandler(store Store, dispatcher Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{store: store, dispatcher: dispatcher, logger: logger}
}

// Handle loads the completed job and dispatches it. Transport failures are retried;
// rejected exports are dead-lettered. The job itself is never modified.
func (h *Handler) Handle(ctx context.Context, t task.Task) error {
	var payload task.DispatchExport
	if err := t.Bind(&payload); err != nil {
		return err
	}

	logger := h.logger.With(
		slog.String("job_id", payload.JobID),
		slog.String("session_id", payload.SessionID),
	)

	job, err := h.store.GetJob(ctx, payload.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("Job not found, skipping export")
		return nil
	}
	if err != nil {
		return task.NewRetryableError(fmt.Errorf("failed to load job for export: %w", err))
	}
	if job.Status != domain.JobStatusCompleted || job.Output == nil {
		logger.Warn("Job has no completed output, skipping export",
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	e := Export{
		JobID:         job.ID,
		SessionID:     job.SessionID,
		ProjectID:     job.ProjectID,
		ExperienceID:  job.ExperienceID,
		ConfigVersion: job.Snapshot.ConfigVersion,
		Output:        *job.Output,
	}
	if job.CompletedAt != nil {
		e.CompletedAt = *job.CompletedAt
	}

	if err := h.dispatcher.Dispatch(ctx, e); err != nil {
		sideErr := &domain.SideEffectError{Op: "export", Err: err}
		logger.Error("Export dispatch failed",
			slog.Int("attempt", t.Attempt),
			slog.String("error", sideErr.Error()),
		)
		if retryable(err) {
			return task.NewRetryableError(sideErr)
		}
		return sideErr
	}

	logger.Info("Job output exported")
	return nil
}

func retryable(err error) bool {
	var statusErr *webhook.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
