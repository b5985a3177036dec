package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/transform-pipeline/internal/api/dto"
	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/intake"
	"github.com/cuongbtq/transform-pipeline/internal/requestor"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/gin-gonic/gin"
)

// JobRequestor creates transform jobs
type JobRequestor interface {
	RequestJob(ctx context.Context, projectID, sessionID string) (requestor.Result, error)
}

// RecipientIntake accepts recipient addresses
type RecipientIntake interface {
	SubmitRecipientAddress(ctx context.Context, projectID, sessionID, address string) (intake.Outcome, error)
}

// Store is the read and cancel access the handlers need
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error)
	CancelJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetSession(ctx context.Context, projectID, sessionID string) (*domain.Session, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionChecker reports whether a long-lived connection is up
type ConnectionChecker interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Requestor   JobRequestor
	Intake      RecipientIntake
	Store       Store
	Database    HealthChecker
	Broker      ConnectionChecker // nil when tasks run in-process
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	requestor JobRequestor
	store     Store
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		requestor: deps.Requestor,
		store:     deps.Store,
	}
}

// SessionHandler handles session-related HTTP requests
type SessionHandler struct {
	logger *slog.Logger
	intake RecipientIntake
	store  Store
}

// NewSessionHandler creates a new SessionHandler instance
func NewSessionHandler(deps *Dependencies) *SessionHandler {
	return &SessionHandler{
		logger: deps.Logger,
		intake: deps.Intake,
		store:  deps.Store,
	}
}

// respondError maps domain errors onto HTTP status codes
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var validationErr *domain.ValidationError
	var conflictErr *domain.ConflictError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_failed",
			Field:   validationErr.Field,
			Message: validationErr.Reason,
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: conflictErr.Reason})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
	default:
		logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal_error"})
	}
}
