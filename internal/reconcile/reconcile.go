// Package reconcile re-enqueues pending jobs whose execution task was lost, for
// example when the broker was unreachable right after the job was created. It
// also fails running jobs that outlived every attempt the retry policy allows,
// so a task dropped mid-flight cannot leave a session running forever.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/queue"
	"github.com/cuongbtq/transform-pipeline/internal/task"
)

// DefaultBatchSize bounds the jobs re-enqueued by one sweep
const DefaultBatchSize = 100

// abandonedMessage is recorded on running jobs failed by the sweeper
const abandonedMessage = "execution abandoned: no attempt settled within the retry budget"

// Store lists stuck jobs and fails the abandoned ones
type Store interface {
	ListStalePendingJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error)
	ListStaleRunningJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error)
	FailJob(ctx context.Context, jobID string, jobErr domain.JobError) (*domain.Job, error)
}

// Sweeper re-enqueues stale pending jobs. Duplicate tasks are harmless: the
// claim on pending -> running admits only one execution.
type Sweeper struct {
	store     Store
	queue     queue.Enqueuer
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// NewSweeper creates a new Sweeper
func NewSweeper(store Store, q queue.Enqueuer, logger *slog.Logger, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sweeper{
		store:     store,
		queue:     q,
		logger:    logger,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Sweep re-enqueues jobs pending for longer than olderThan and returns how many
// were enqueued
func (s *Sweeper) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := s.store.ListStalePendingJobs(ctx, s.now().Add(-olderThan), s.batchSize)
	if err != nil {
		return 0, err
	}

	var errs []error
	enqueued := 0
	for _, job := range jobs {
		if err := queue.EnqueueNew(ctx, s.queue, task.ExecuteTransform{JobID: job.ID}); err != nil {
			s.logger.Error("Failed to re-enqueue stale job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		enqueued++
		s.logger.Info("Re-enqueued stale job",
			slog.String("job_id", job.ID),
			slog.String("session_id", job.SessionID),
			slog.Time("created_at", job.CreatedAt),
		)
	}

	return enqueued, errors.Join(errs...)
}

// Abandon fails jobs still running longer than runningFor after their first
// claim and returns how many were failed. A job that settles concurrently wins
// the compare-and-set and is skipped.
func (s *Sweeper) Abandon(ctx context.Context, runningFor time.Duration) (int, error) {
	jobs, err := s.store.ListStaleRunningJobs(ctx, s.now().Add(-runningFor), s.batchSize)
	if err != nil {
		return 0, err
	}

	var errs []error
	failed := 0
	for _, job := range jobs {
		_, err := s.store.FailJob(ctx, job.ID, domain.JobError{
			Kind:    domain.ErrorKindTransientExhausted,
			Message: abandonedMessage,
		})
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("Failed to fail abandoned job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		failed++
		s.logger.Warn("Failed abandoned running job",
			slog.String("job_id", job.ID),
			slog.String("session_id", job.SessionID),
			slog.Int("attempts", job.Attempts),
		)
	}

	return failed, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled. Pending jobs older than
// pendingAge are re-enqueued; running jobs older than runningAge are failed
// unless runningAge is 0.
func (s *Sweeper) Run(ctx context.Context, interval, pendingAge, runningAge time.Duration) {
	s.logger.Info("Starting reconcile loop",
		slog.Duration("interval", interval),
		slog.Duration("pending_age", pendingAge),
		slog.Duration("running_age", runningAge),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconcile loop stopped")
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx, pendingAge)
			if err != nil {
				s.logger.Error("Reconcile sweep failed",
					slog.String("error", err.Error()),
				)
			}
			if n > 0 {
				s.logger.Info("Reconcile sweep done", slog.Int("enqueued", n))
			}
			if runningAge <= 0 {
				continue
			}
			if _, err := s.Abandon(ctx, runningAge); err != nil {
				s.logger.Error("Abandoned job sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
