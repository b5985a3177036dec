package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/jmoiron/sqlx"
)

type sessionRow struct {
	ID                 string         `db:"id"`
	ProjectID          string         `db:"project_id"`
	ExperienceID       string         `db:"experience_id"`
	Responses          sql.NullString `db:"responses"`
	JobID              sql.NullString `db:"job_id"`
	JobStatus          sql.NullString `db:"job_status"`
	ResultMedia        sql.NullString `db:"result_media"`
	RecipientAddress   sql.NullString `db:"recipient_address"`
	NotificationSentAt sql.NullTime   `db:"notification_sent_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *sessionRow) toDomain() (*domain.Session, error) {
	responses, err := unmarshalNullable[map[string]any](r.Responses)
	if err != nil {
		return nil, fmt.Errorf("session %s: failed to decode responses: %w", r.ID, err)
	}

	resultMedia, err := unmarshalNullable[domain.MediaRef](r.ResultMedia)
	if err != nil {
		return nil, fmt.Errorf("session %s: failed to decode result media: %w", r.ID, err)
	}

	session := &domain.Session{
		ID:                 r.ID,
		ProjectID:          r.ProjectID,
		ExperienceID:       r.ExperienceID,
		JobID:              nullableString(r.JobID),
		ResultMedia:        resultMedia,
		RecipientAddress:   nullableString(r.RecipientAddress),
		NotificationSentAt: nullableTime(r.NotificationSentAt),
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if responses != nil {
		session.Responses = *responses
	}
	if r.JobStatus.Valid {
		status := domain.JobStatus(r.JobStatus.String)
		session.JobStatus = &status
	}

	return session, nil
}

const sessionColumns = `
	id, project_id, experience_id, responses, job_id, job_status,
	result_media, recipient_address, notification_sent_at, created_at, updated_at
`

// GetSession fetches a session scoped to its project
func (s *Store) GetSession(ctx context.Context, projectID, sessionID string) (*domain.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND project_id = ?`,
	), sessionID, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return row.toDomain()
}

func sessionExists(ctx context.Context, q queryer, projectID, sessionID string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count, q.Rebind(
		`SELECT COUNT(*) FROM sessions WHERE id = ? AND project_id = ?`,
	), sessionID, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	return count > 0, nil
}

// SetRecipientAddress stores the address only if none was stored before.
// It returns false when an address already exists (first write wins).
func (s *Store) SetRecipientAddress(ctx context.Context, projectID, sessionID, address string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sessions
		SET recipient_address = ?, updated_at = ?
		WHERE id = ? AND project_id = ? AND recipient_address IS NULL
	`), address, s.now(), sessionID, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to set recipient address: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	exists, err := sessionExists(ctx, s.db, projectID, sessionID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return false, nil
}

// ClaimNotification sets notificationSentAt if and only if it is still unset and
// both convergence conditions hold. Exactly one concurrent caller gets true.
func (s *Store) ClaimNotification(ctx context.Context, projectID, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sessions
		SET notification_sent_at = ?, updated_at = ?
		WHERE id = ? AND project_id = ?
		  AND notification_sent_at IS NULL
		  AND recipient_address IS NOT NULL
		  AND job_status = ?
		  AND result_media IS NOT NULL
	`), s.now(), s.now(), sessionID, projectID, string(domain.JobStatusCompleted))
	if err != nil {
		return false, fmt.Errorf("failed to claim notification: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateSession inserts a session. Sessions are owned by the guest UI; the pipeline
// only creates them for seeding and tests.
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	responses, err := marshalJSON(session.Responses)
	if err != nil {
		return fmt.Errorf("failed to marshal responses: %w", err)
	}

	now := s.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sessions (id, project_id, experience_id, responses, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), session.ID, session.ProjectID, session.ExperienceID, responses, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSessionResponses replaces the guest's answers, touching no pipeline-owned field
func (s *Store) UpdateSessionResponses(ctx context.Context, projectID, sessionID string, responses map[string]any) error {
	encoded, err := marshalJSON(responses)
	if err != nil {
		return fmt.Errorf("failed to marshal responses: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sessions SET responses = ?, updated_at = ? WHERE id = ? AND project_id = ?
	`), encoded, s.now(), sessionID, projectID)
	if err != nil {
		return fmt.Errorf("failed to update responses: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}
