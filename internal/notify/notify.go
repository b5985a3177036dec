// Package notify sends the result notification of a session exactly once, when both
// the recipient address and the completed result are present.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/task"
)

// Outcome is the result of one convergence check
type Outcome string

const (
	OutcomeNotReady    Outcome = "not_ready"
	OutcomeAlreadySent Outcome = "already_sent"
	OutcomeSent        Outcome = "sent"
	OutcomeSendFailed  Outcome = "send_failed"
)

// Store is the session persistence the controller needs
type Store interface {
	GetSession(ctx context.Context, projectID, sessionID string) (*domain.Session, error)
	ClaimNotification(ctx context.Context, projectID, sessionID string) (bool, error)
}

// Controller converges the two independent session updates (address submitted,
// result completed) into a single notification
type Controller struct {
	store  Store
	sender Sender
	logger *slog.Logger
}

// NewController creates a new Controller
func NewController(store Store, sender Sender, logger *slog.Logger) *Controller {
	return &Controller{store: store, sender: sender, logger: logger}
}

// CheckAndNotify sends the notification if the session is ready and nobody sent it
// before. It is safe to call from any number of concurrent callers: the claim on
// notification_sent_at admits exactly one sender.
//
// A failed send is logged and reported as OutcomeSendFailed; the claim is not
// released, so the notification is never sent twice.
func (c *Controller) CheckAndNotify(ctx context.Context, projectID, sessionID string) (Outcome, error) {
	logger := c.logger.With(
		slog.String("project_id", projectID),
		slog.String("session_id", sessionID),
	)

	session, err := c.store.GetSession(ctx, projectID, sessionID)
	if err != nil {
		return "", err
	}
	if session.NotificationSentAt != nil {
		return OutcomeAlreadySent, nil
	}
	if !session.ReadyToNotify() {
		logger.Debug("Session not ready to notify",
			slog.Bool("has_recipient", session.RecipientAddress != nil),
			slog.Bool("has_result", session.ResultMedia != nil),
		)
		return OutcomeNotReady, nil
	}

	claimed, err := c.store.ClaimNotification(ctx, projectID, sessionID)
	if err != nil {
		return "", err
	}
	if !claimed {
		logger.Debug("Notification claimed by another caller")
		return OutcomeAlreadySent, nil
	}

	n := Notification{
		ProjectID:   projectID,
		SessionID:   sessionID,
		Address:     *session.RecipientAddress,
		ResultMedia: *session.ResultMedia,
	}
	if session.JobID != nil {
		n.JobID = *session.JobID
	}

	if err := c.sender.Send(ctx, n); err != nil {
		sideErr := &domain.SideEffectError{Op: "notification", Err: err}
		logger.Error("Failed to send notification",
			slog.String("error", sideErr.Error()),
		)
		return OutcomeSendFailed, nil
	}

	logger.Info("Notification sent",
		slog.String("job_id", n.JobID),
	)
	return OutcomeSent, nil
}

// Handle processes check-notification tasks
func (c *Controller) Handle(ctx context.Context, t task.Task) error {
	var payload task.CheckNotification
	if err := t.Bind(&payload); err != nil {
		return err
	}

	outcome, err := c.CheckAndNotify(ctx, payload.ProjectID, payload.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		c.logger.Warn("Session not found for notification check",
			slog.String("session_id", payload.SessionID),
		)
		return nil
	}
	if err != nil {
		return task.NewRetryableError(fmt.Errorf("notification check failed: %w", err))
	}

	c.logger.Debug("Notification check done",
		slog.String("session_id", payload.SessionID),
		slog.String("outcome", string(outcome)),
	)
	return nil
}
