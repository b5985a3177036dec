// Package intake accepts the guest's recipient address for a session.
package intake

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/notify"
	"github.com/go-playground/validator/v10"
)

// Outcome of an address submission
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeAlreadySubmitted Outcome = "already_submitted"
	OutcomeInvalidFormat    Outcome = "invalid_format"
)

// Store is the session persistence intake needs
type Store interface {
	SetRecipientAddress(ctx context.Context, projectID, sessionID, address string) (bool, error)
}

// Notifier runs the convergence check after an address is stored
type Notifier interface {
	CheckAndNotify(ctx context.Context, projectID, sessionID string) (notify.Outcome, error)
}

// Service stores recipient addresses
type Service struct {
	store    Store
	notifier Notifier
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates a new intake service
func NewService(store Store, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		validate: validator.New(),
		logger:   logger,
	}
}

// SubmitRecipientAddress stores address on the session unless one was stored
// before, then checks whether the notification can go out.
//
// InvalidFormat is returned together with a *domain.ValidationError and
// AlreadySubmitted with a *domain.ConflictError, so callers may branch on either.
func (s *Service) SubmitRecipientAddress(ctx context.Context, projectID, sessionID, address string) (Outcome, error) {
	address = strings.TrimSpace(address)
	if err := s.validate.Var(address, "required,email,max=254"); err != nil {
		return OutcomeInvalidFormat, &domain.ValidationError{Field: "address", Reason: "must be a valid email address"}
	}

	logger := s.logger.With(
		slog.String("project_id", projectID),
		slog.String("session_id", sessionID),
	)

	stored, err := s.store.SetRecipientAddress(ctx, projectID, sessionID, address)
	if err != nil {
		return "", err
	}
	if !stored {
		logger.Info("Recipient address already submitted")
		return OutcomeAlreadySubmitted, &domain.ConflictError{Reason: domain.ReasonAlreadySubmitted}
	}

	logger.Info("Recipient address stored")

	// The result may have completed before the address arrived
	outcome, err := s.notifier.CheckAndNotify(ctx, projectID, sessionID)
	if err != nil {
		logger.Error("Notification check after address submission failed",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Debug("Notification check done",
			slog.String("outcome", string(outcome)),
		)
	}

	return OutcomeOK, nil
}
