// Package requestor turns a completed session into a durable, queued transform job.
package requestor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/overlay"
	"github.com/cuongbtq/transform-pipeline/internal/queue"
	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/google/uuid"
)

// Outcome is the result kind of RequestJob
type Outcome string

const (
	OutcomeRequested         Outcome = "requested"
	OutcomeNoOpSkip          Outcome = "noop_skip"
	OutcomeAlreadyInProgress Outcome = "already_in_progress"
)

// Result of a job request. JobID is set only for OutcomeRequested.
type Result struct {
	Outcome Outcome
	JobID   string
}

// Store is the persistence the requestor needs
type Store interface {
	GetSession(ctx context.Context, projectID, sessionID string) (*domain.Session, error)
	GetExperience(ctx context.Context, projectID, experienceID string) (*domain.Experience, error)
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	CreateJob(ctx context.Context, job *domain.Job) error
}

// Service creates transform jobs
type Service struct {
	store  Store
	queue  queue.Enqueuer
	logger *slog.Logger
}

// NewService creates a new requestor service
func NewService(store Store, q queue.Enqueuer, logger *slog.Logger) *Service {
	return &Service{store: store, queue: q, logger: logger}
}

// RequestJob snapshots the session's configuration into a pending job and enqueues
// its execution. It never waits for the transform to run.
//
// Errors are reserved for missing sessions (domain.ErrNotFound), invalid
// configuration (*domain.ValidationError) and infrastructure failures.
func (s *Service) RequestJob(ctx context.Context, projectID, sessionID string) (Result, error) {
	logger := s.logger.With(
		slog.String("project_id", projectID),
		slog.String("session_id", sessionID),
	)

	session, err := s.store.GetSession(ctx, projectID, sessionID)
	if err != nil {
		return Result{}, err
	}

	exp, err := s.store.GetExperience(ctx, projectID, session.ExperienceID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load experience: %w", err)
	}

	if !exp.Outcome.HasTransform() {
		logger.Info("Experience has no transform configured, skipping job",
			slog.String("experience_id", exp.ID),
		)
		return Result{Outcome: OutcomeNoOpSkip}, nil
	}

	if err := overlay.Validate(exp.MediaType, exp.AspectRatio); err != nil {
		return Result{}, err
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load project: %w", err)
	}

	overlayChoice := overlay.Resolve(project.Overlays, exp.ApplyOverlay, exp.AspectRatio)

	snapshot, err := domain.NewSnapshot(session.Responses, exp, overlayChoice)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build snapshot: %w", err)
	}

	job := &domain.Job{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		SessionID:    sessionID,
		ExperienceID: exp.ID,
		Status:       domain.JobStatusPending,
		Snapshot:     *snapshot,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		if domain.IsConflict(err, domain.ReasonAlreadyInProgress) {
			logger.Info("Session already has an active job")
			return Result{Outcome: OutcomeAlreadyInProgress}, nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("failed to create job: %w", err)
	}

	logger = logger.With(slog.String("job_id", job.ID))
	logger.Info("Job created",
		slog.Int("config_version", snapshot.ConfigVersion),
		slog.Bool("overlay", overlayChoice != nil),
	)

	// The job is durable at this point; a lost enqueue is recovered by the reconcile sweep
	if err := queue.EnqueueNew(ctx, s.queue, task.ExecuteTransform{JobID: job.ID}); err != nil {
		logger.Error("Failed to enqueue job execution, job stays pending",
			slog.String("error", err.Error()),
		)
	}

	return Result{Outcome: OutcomeRequested, JobID: job.ID}, nil
}
