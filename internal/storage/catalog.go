package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
)

type projectRow struct {
	ID       string         `db:"id"`
	Name     string         `db:"name"`
	Overlays sql.NullString `db:"overlays"`
}

type experienceRow struct {
	ID            string         `db:"id"`
	ProjectID     string         `db:"project_id"`
	Name          string         `db:"name"`
	MediaType     string         `db:"media_type"`
	AspectRatio   string         `db:"aspect_ratio"`
	ApplyOverlay  bool           `db:"apply_overlay"`
	Steps         sql.NullString `db:"steps"`
	Outcome       string         `db:"outcome"`
	ConfigVersion int            `db:"config_version"`
}

// GetProject fetches a project with its overlay map
func (s *Store) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT id, name, overlays FROM projects WHERE id = ?`,
	), projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	overlays, err := unmarshalNullable[map[string]*domain.MediaRef](row.Overlays)
	if err != nil {
		return nil, fmt.Errorf("project %s: failed to decode overlays: %w", projectID, err)
	}

	project := &domain.Project{ID: row.ID, Name: row.Name}
	if overlays != nil {
		project.Overlays = *overlays
	}
	return project, nil
}

// GetExperience fetches an experience scoped to its project
func (s *Store) GetExperience(ctx context.Context, projectID, experienceID string) (*domain.Experience, error) {
	var row experienceRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, project_id, name, media_type, aspect_ratio, apply_overlay, steps, outcome, config_version
		FROM experiences
		WHERE id = ? AND project_id = ?
	`), experienceID, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experience %s: %w", experienceID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experience: %w", err)
	}

	steps, err := unmarshalNullable[[]domain.Step](row.Steps)
	if err != nil {
		return nil, fmt.Errorf("experience %s: failed to decode steps: %w", experienceID, err)
	}

	var outcome domain.OutcomeConfig
	if err := unmarshalInto(row.Outcome, &outcome); err != nil {
		return nil, fmt.Errorf("experience %s: failed to decode outcome: %w", experienceID, err)
	}

	exp := &domain.Experience{
		ID:            row.ID,
		ProjectID:     row.ProjectID,
		Name:          row.Name,
		MediaType:     domain.MediaType(row.MediaType),
		AspectRatio:   domain.AspectRatio(row.AspectRatio),
		ApplyOverlay:  row.ApplyOverlay,
		Outcome:       outcome,
		ConfigVersion: row.ConfigVersion,
	}
	if steps != nil {
		exp.Steps = *steps
	}
	return exp, nil
}

// UpsertProject creates or replaces a project
func (s *Store) UpsertProject(ctx context.Context, project *domain.Project) error {
	var overlays any
	if project.Overlays != nil {
		encoded, err := marshalJSON(project.Overlays)
		if err != nil {
			return fmt.Errorf("failed to marshal overlays: %w", err)
		}
		overlays = encoded
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO projects (id, name, overlays, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			overlays = excluded.overlays,
			updated_at = excluded.updated_at
	`), project.ID, project.Name, overlays, s.now())
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

// UpsertExperience creates or replaces an experience. Jobs already created keep
// the snapshot they were created with.
func (s *Store) UpsertExperience(ctx context.Context, exp *domain.Experience) error {
	steps, err := marshalJSON(exp.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	outcome, err := marshalJSON(exp.Outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	version := exp.ConfigVersion
	if version <= 0 {
		version = 1
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO experiences (
			id, project_id, name, media_type, aspect_ratio, apply_overlay,
			steps, outcome, config_version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			project_id = excluded.project_id,
			name = excluded.name,
			media_type = excluded.media_type,
			aspect_ratio = excluded.aspect_ratio,
			apply_overlay = excluded.apply_overlay,
			steps = excluded.steps,
			outcome = excluded.outcome,
			config_version = excluded.config_version,
			updated_at = excluded.updated_at
	`), exp.ID, exp.ProjectID, exp.Name, string(exp.MediaType), string(exp.AspectRatio), exp.ApplyOverlay,
		steps, outcome, version, s.now())
	if err != nil {
		return fmt.Errorf("failed to upsert experience: %w", err)
	}
	return nil
}
