// Package storagetest provides a migrated SQLite store and seed data for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
	"github.com/cuongbtq/transform-pipeline/internal/storage"
	"github.com/cuongbtq/transform-pipeline/shared/database"
	"github.com/cuongbtq/transform-pipeline/shared/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Default fixture identifiers
const (
	ProjectID    = "proj-1"
	ExperienceID = "exp-1"
)

// OverlaySquare and OverlayDefault are the overlays seeded on the default project
var (
	OverlaySquare  = &domain.MediaRef{URL: "https://cdn.example.com/overlays/square.png", MimeType: "image/png"}
	OverlayDefault = &domain.MediaRef{URL: "https://cdn.example.com/overlays/default.png", MimeType: "image/png"}
)

// New opens a fresh, migrated SQLite store under t.TempDir()
func New(t testing.TB) *storage.Store {
	t.Helper()
	return Open(t, filepath.Join(t.TempDir(), "pipeline.db"))
}

// Open opens and migrates the SQLite database at path, for tests that share
// the file with another process-level client
func Open(t testing.TB, path string) *storage.Store {
	t.Helper()

	log := logger.NewNop()
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   path,
	}, log.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := storage.NewStore(client, log.Logger)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// Project returns the default project definition
func Project() *domain.Project {
	return &domain.Project{
		ID:   ProjectID,
		Name: "Launch booth",
		Overlays: map[string]*domain.MediaRef{
			string(domain.AspectRatioSquare): OverlaySquare,
			domain.OverlayDefaultKey:         OverlayDefault,
		},
	}
}

// Experience returns the default experience definition: square images with overlay
func Experience() *domain.Experience {
	return &domain.Experience{
		ID:           ExperienceID,
		ProjectID:    ProjectID,
		Name:         "Portrait studio",
		MediaType:    domain.MediaTypeImage,
		AspectRatio:  domain.AspectRatioSquare,
		ApplyOverlay: true,
		Steps: []domain.Step{
			{ID: "capture", Type: "camera", Title: "Smile"},
			{ID: "style", Type: "choice", Title: "Pick a style"},
		},
		Outcome: domain.OutcomeConfig{
			Type:   "image",
			Prompt: "studio portrait",
			Nodes: []domain.TransformNode{
				{ID: "n1", Type: "stylize", Config: map[string]any{"strength": 0.7}},
			},
		},
		ConfigVersion: 1,
	}
}

// Seed stores the default project and experience
func Seed(t testing.TB, store *storage.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertProject(ctx, Project()))
	require.NoError(t, store.UpsertExperience(ctx, Experience()))
}

// NewSession stores a session of the default experience with the given responses
func NewSession(t testing.TB, store *storage.Store, responses map[string]any) *domain.Session {
	t.Helper()

	if responses == nil {
		responses = map[string]any{"style": "noir"}
	}
	session := &domain.Session{
		ID:           uuid.NewString(),
		ProjectID:    ProjectID,
		ExperienceID: ExperienceID,
		Responses:    responses,
	}
	require.NoError(t, store.CreateSession(context.Background(), session))
	return session
}

// NewJob builds a pending job for session with a snapshot of the default experience
func NewJob(t testing.TB, session *domain.Session) *domain.Job {
	t.Helper()

	snapshot, err := domain.NewSnapshot(session.Responses, Experience(), OverlaySquare)
	require.NoError(t, err)

	return &domain.Job{
		ID:           uuid.NewString(),
		ProjectID:    session.ProjectID,
		SessionID:    session.ID,
		ExperienceID: session.ExperienceID,
		Snapshot:     *snapshot,
	}
}

// ResultMedia is the output CompletedJob records
var ResultMedia = &domain.MediaRef{URL: "https://cdn.example.com/results/out.png", MimeType: "image/png"}

// CompletedJob creates a job for session and drives it to completed with ResultMedia
func CompletedJob(t testing.TB, store *storage.Store, session *domain.Session) *domain.Job {
	t.Helper()
	ctx := context.Background()

	job := NewJob(t, session)
	require.NoError(t, store.CreateJob(ctx, job))
	_, err := store.ClaimJob(ctx, job.ID, 1, false)
	require.NoError(t, err)
	completed, err := store.CompleteJob(ctx, job.ID, ResultMedia)
	require.NoError(t, err)
	return completed
}
