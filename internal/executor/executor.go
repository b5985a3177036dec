// Package executor runs transform jobs delivered by the queue and drives their
// state machine: pending -> running -> completed | failed.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/queue"
	"github.com/cuongbtq/transform-pipeline/internal/task"
	"github.com/cuongbtq/transform-pipeline/internal/transform"
)

// terminalWriteTimeout bounds the state write and follow-up enqueues that settle a
// job. They run detached from the delivery context, which may already be past its
// deadline when the transform overran the job timeout.
const terminalWriteTimeout = 15 * time.Second

// errNoOutput is returned for a transform that reported success without a result
var errNoOutput = errors.New("transform returned no output")

// Store is the job persistence the executor needs
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ClaimJob(ctx context.Context, jobID string, attempt int, redelivered bool) (*domain.Job, error)
	CompleteJob(ctx context.Context, jobID string, output *domain.MediaRef) (*domain.Job, error)
	FailJob(ctx context.Context, jobID string, jobErr domain.JobError) (*domain.Job, error)
}

// Config holds executor dependencies
type Config struct {
	Logger    *slog.Logger
	Store     Store
	Transform transform.Executor
	// Queue receives the follow-up tasks of a completed job
	Queue queue.Enqueuer
	// Policy must match the queue's so the last attempt is recognised here
	Policy        task.RetryPolicy
	ExportEnabled bool
}

// Executor handles execute-transform tasks
type Executor struct {
	logger        *slog.Logger
	store         Store
	transform     transform.Executor
	queue         queue.Enqueuer
	policy        task.RetryPolicy
	exportEnabled bool
}

// New creates a new Executor
func New(cfg *Config) *Executor {
	return &Executor{
		logger:        cfg.Logger,
		store:         cfg.Store,
		transform:     cfg.Transform,
		queue:         cfg.Queue,
		policy:        cfg.Policy.WithDefaults(),
		exportEnabled: cfg.ExportEnabled,
	}
}

// Handle runs one delivery of a job. A nil return acknowledges the delivery,
// including deliveries that lost the claim. Transient failures below the attempt
// ceiling come back as task.RetryableError so the queue schedules another attempt.
func (e *Executor) Handle(ctx context.Context, t task.Task) error {
	var payload task.ExecuteTransform
	if err := t.Bind(&payload); err != nil {
		return err
	}

	logger := e.logger.With(
		slog.String("job_id", payload.JobID),
		slog.Int("attempt", t.Attempt),
	)

	job, err := e.store.ClaimJob(ctx, payload.JobID, t.Attempt, t.Redelivered)
	if err != nil {
		return e.claimMissed(ctx, logger, payload.JobID, err)
	}

	logger = logger.With(
		slog.String("session_id", job.SessionID),
		slog.String("project_id", job.ProjectID),
	)
	logger.Info("Job claimed, executing transform")

	start := time.Now()
	output, execErr := e.transform.Execute(ctx, transform.NewRequest(job))
	if execErr == nil && (output == nil || output.URL == "") {
		execErr = domain.NewFatalError(errNoOutput)
	}

	settleCtx, cancel := terminalContext(ctx)
	defer cancel()

	if execErr == nil {
		return e.complete(settleCtx, logger, job, output, time.Since(start))
	}

	transient := domain.IsTransient(execErr)
	if transient && !e.policy.Exhausted(t.Attempt) {
		logger.Warn("Transform failed, will retry",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", execErr.Error()),
		)
		return task.NewRetryableError(execErr)
	}

	kind := domain.ErrorKindFatal
	if transient {
		kind = domain.ErrorKindTransientExhausted
	}
	return e.fail(settleCtx, logger, job, domain.JobError{Kind: kind, Message: execErr.Error()})
}

func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func (e *Executor) claimMissed(ctx context.Context, logger *slog.Logger, jobID string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("Job not found, dropping delivery")
		return nil
	case errors.Is(err, domain.ErrInvalidTransition):
		job, getErr := e.store.GetJob(ctx, jobID)
		if getErr != nil {
			logger.Warn("Job not claimable, dropping delivery",
				slog.String("error", getErr.Error()),
			)
			return nil
		}
		logger.Info("Job not claimable, dropping delivery",
			slog.String("status", string(job.Status)),
			slog.Int("job_attempts", job.Attempts),
		)
		return nil
	default:
		return task.NewRetryableError(fmt.Errorf("failed to claim job %s: %w", jobID, err))
	}
}

func (e *Executor) complete(ctx context.Context, logger *slog.Logger, job *domain.Job, output *domain.MediaRef, took time.Duration) error {
	completed, err := e.store.CompleteJob(ctx, job.ID, output)
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
		logger.Warn("Job left running state before completion, discarding output")
		return nil
	}
	if err != nil {
		return task.NewRetryableError(fmt.Errorf("failed to complete job %s: %w", job.ID, err))
	}

	logger.Info("Job completed",
		slog.Duration("duration", took),
		slog.String("output_url", output.URL),
	)

	if e.exportEnabled {
		e.followUp(ctx, logger, "export", task.DispatchExport{
			JobID:     completed.ID,
			SessionID: completed.SessionID,
			ProjectID: completed.ProjectID,
		})
	}
	e.followUp(ctx, logger, "notification", task.CheckNotification{
		SessionID: completed.SessionID,
		ProjectID: completed.ProjectID,
	})
	return nil
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, job *domain.Job, jobErr domain.JobError) error {
	_, err := e.store.FailJob(ctx, job.ID, jobErr)
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
		logger.Warn("Job left running state before failure was recorded")
		return nil
	}
	if err != nil {
		return task.NewRetryableError(fmt.Errorf("failed to record job %s failure: %w", job.ID, err))
	}

	logger.Error("Job failed",
		slog.String("error_kind", string(jobErr.Kind)),
		slog.String("error", jobErr.Message),
	)
	return nil
}

// followUp enqueues a side effect of completion. Failures never change the job.
func (e *Executor) followUp(ctx context.Context, logger *slog.Logger, op string, payload any) {
	if err := queue.EnqueueNew(ctx, e.queue, payload); err != nil {
		sideErr := &domain.SideEffectError{Op: op, Err: err}
		logger.Error("Failed to enqueue follow-up task",
			slog.String("error", sideErr.Error()),
		)
	}
}
