package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	id, project_id, session_id, experience_id, status, snapshot, output,
	error_kind, error_message, attempts, created_at, started_at, completed_at
`

type jobRow struct {
	ID           string         `db:"id"`
	ProjectID    string         `db:"project_id"`
	SessionID    string         `db:"session_id"`
	ExperienceID string         `db:"experience_id"`
	Status       string         `db:"status"`
	Snapshot     string         `db:"snapshot"`
	Output       sql.NullString `db:"output"`
	ErrorKind    sql.NullString `db:"error_kind"`
	ErrorMessage sql.NullString `db:"error_message"`
	Attempts     int            `db:"attempts"`
	CreatedAt    time.Time      `db:"created_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	snapshot, err := domain.DecodeSnapshot([]byte(r.Snapshot))
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.ID, err)
	}

	output, err := unmarshalNullable[domain.MediaRef](r.Output)
	if err != nil {
		return nil, fmt.Errorf("job %s: failed to decode output: %w", r.ID, err)
	}

	job := &domain.Job{
		ID:           r.ID,
		ProjectID:    r.ProjectID,
		SessionID:    r.SessionID,
		ExperienceID: r.ExperienceID,
		Status:       domain.JobStatus(r.Status),
		Snapshot:     *snapshot,
		Output:       output,
		Attempts:     r.Attempts,
		CreatedAt:    r.CreatedAt.UTC(),
		StartedAt:    nullableTime(r.StartedAt),
		CompletedAt:  nullableTime(r.CompletedAt),
	}

	if r.ErrorKind.Valid {
		job.Error = &domain.JobError{
			Kind:    domain.ErrorKind(r.ErrorKind.String),
			Message: r.ErrorMessage.String,
		}
	}

	return job, nil
}

// JobFilter narrows ListJobs
type JobFilter struct {
	ProjectID string
	SessionID string
	Status    domain.JobStatus
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor is the keyset position of the last job of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// CreateJob persists a pending job and points the owning session at it.
//
// The session row is claimed first with a conditional UPDATE that only matches
// when the session has no active job; a miss is reported as
// ConflictError{already_in_progress} (or ErrNotFound when the session does not
// exist in the project). Both writes commit together.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	snapshot, err := marshalJSON(job.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.Status = domain.JobStatusPending

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE sessions
			SET job_id = ?, job_status = ?, result_media = NULL, updated_at = ?
			WHERE id = ? AND project_id = ?
			  AND (job_status IS NULL OR job_status NOT IN ('pending', 'running'))
		`), job.ID, string(domain.JobStatusPending), job.CreatedAt, job.SessionID, job.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to claim session: %w", err)
		}

		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			exists, err := sessionExists(ctx, tx, job.ProjectID, job.SessionID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("session %s: %w", job.SessionID, domain.ErrNotFound)
			}
			return &domain.ConflictError{Reason: domain.ReasonAlreadyInProgress}
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO jobs (
				id, project_id, session_id, experience_id,
				status, snapshot, attempts, created_at
			) VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		`), job.ID, job.ProjectID, job.SessionID, job.ExperienceID,
			string(job.Status), snapshot, job.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		return nil
	})
}

// GetJob fetches a job by ID
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return getJob(ctx, s.db, jobID)
}

func getJob(ctx context.Context, q queryer, jobID string) (*domain.Job, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// ListJobs returns up to PageSize+1 jobs, newest first, so callers can detect a next page
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}

	if filter.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		cursorAt := filter.Cursor.CreatedAt.UTC()
		args = append(args, cursorAt, cursorAt, filter.Cursor.JobID)
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return rowsToJobs(rows)
}

// ListStalePendingJobs returns pending jobs created before the given instant, oldest first
func (s *Store) ListStalePendingJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?
	`), string(domain.JobStatusPending), before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	return rowsToJobs(rows)
}

// ListStaleRunningJobs returns running jobs first claimed before the given
// instant, oldest first
func (s *Store) ListStaleRunningJobs(ctx context.Context, before time.Time, limit int) ([]*domain.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND started_at < ?
		ORDER BY started_at ASC
		LIMIT ?
	`), string(domain.JobStatusRunning), before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale running jobs: %w", err)
	}

	return rowsToJobs(rows)
}

func rowsToJobs(rows []jobRow) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ClaimJob moves a job to running for the given delivery attempt.
//
// A pending job is always claimable. A running job is claimable only by the
// next scheduled attempt (attempts == attempt-1) or, when the broker redelivers
// an unacknowledged message, by the same attempt again. Anything else returns
// ErrInvalidTransition and the caller should drop the delivery.
func (s *Store) ClaimJob(ctx context.Context, jobID string, attempt int, redelivered bool) (*domain.Job, error) {
	reentry := -1
	if redelivered {
		reentry = attempt
	}

	now := s.now()
	return s.transition(ctx, jobID, transition{
		to:        domain.JobStatusRunning,
		set:       "started_at = COALESCE(started_at, ?), attempts = ?",
		setArgs:   []any{now, attempt},
		where:     "(status = ? OR (status = ? AND (attempts = ? OR attempts = ?)))",
		whereArgs: []any{string(domain.JobStatusPending), string(domain.JobStatusRunning), attempt - 1, reentry},
	})
}

// CompleteJob records the output of a running job and mirrors it onto the session
func (s *Store) CompleteJob(ctx context.Context, jobID string, output *domain.MediaRef) (*domain.Job, error) {
	encoded, err := marshalNullable(output)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}

	return s.transition(ctx, jobID, transition{
		to:         domain.JobStatusCompleted,
		set:        "output = ?, completed_at = ?",
		setArgs:    []any{encoded, s.now()},
		where:      "status = ?",
		whereArgs:  []any{string(domain.JobStatusRunning)},
		mirror:     "result_media = ?",
		mirrorArgs: []any{encoded},
	})
}

// FailJob terminates a running job with an error
func (s *Store) FailJob(ctx context.Context, jobID string, jobErr domain.JobError) (*domain.Job, error) {
	return s.transition(ctx, jobID, transition{
		to:        domain.JobStatusFailed,
		set:       "error_kind = ?, error_message = ?, completed_at = ?",
		setArgs:   []any{string(jobErr.Kind), jobErr.Message, s.now()},
		where:     "status = ?",
		whereArgs: []any{string(domain.JobStatusRunning)},
	})
}

// CancelJob cancels a job that has not started yet
func (s *Store) CancelJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.transition(ctx, jobID, transition{
		to:        domain.JobStatusCancelled,
		set:       "completed_at = ?",
		setArgs:   []any{s.now()},
		where:     "status = ?",
		whereArgs: []any{string(domain.JobStatusPending)},
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil, &domain.ConflictError{Reason: domain.ReasonNotCancellable}
	}
	return job, err
}

type transition struct {
	to         domain.JobStatus
	set        string
	setArgs    []any
	where      string
	whereArgs  []any
	mirror     string
	mirrorArgs []any
}

// transition applies a conditional job UPDATE and, when it matched, mirrors the
// new status onto the owning session in the same transaction. The mirror is
// scoped to sessions still pointing at this job.
func (s *Store) transition(ctx context.Context, jobID string, t transition) (*domain.Job, error) {
	var job *domain.Job

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := "UPDATE jobs SET status = ?"
		if t.set != "" {
			query += ", " + t.set
		}
		query += " WHERE id = ? AND " + t.where

		args := append([]any{string(t.to)}, t.setArgs...)
		args = append(args, jobID)
		args = append(args, t.whereArgs...)

		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return fmt.Errorf("failed to move job to %s: %w", t.to, err)
		}

		n, err := rowsAffected(res)
		if err != nil {
			return err
		}

		if n == 0 {
			// Distinguish a missing job from one in the wrong state
			if _, err := getJob(ctx, tx, jobID); err != nil {
				return err
			}
			return fmt.Errorf("job %s to %s: %w", jobID, t.to, domain.ErrInvalidTransition)
		}

		job, err = getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		mirror := []string{"job_status = ?", "updated_at = ?"}
		if t.mirror != "" {
			mirror = append(mirror, t.mirror)
		}
		mirrorArgs := append([]any{string(t.to), s.now()}, t.mirrorArgs...)
		mirrorArgs = append(mirrorArgs, job.SessionID, jobID)

		_, err = tx.ExecContext(ctx, tx.Rebind(
			"UPDATE sessions SET "+strings.Join(mirror, ", ")+" WHERE id = ? AND job_id = ?",
		), mirrorArgs...)
		if err != nil {
			return fmt.Errorf("failed to mirror job status onto session: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}
