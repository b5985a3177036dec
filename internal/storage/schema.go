package storage

import (
	"fmt"

	"github.com/cuongbtq/transform-pipeline/shared/database"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		overlays   JSONB,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS experiences (
		id             TEXT PRIMARY KEY,
		project_id     TEXT NOT NULL REFERENCES projects (id),
		name           TEXT NOT NULL DEFAULT '',
		media_type     TEXT NOT NULL,
		aspect_ratio   TEXT NOT NULL,
		apply_overlay  BOOLEAN NOT NULL DEFAULT FALSE,
		steps          JSONB,
		outcome        JSONB NOT NULL,
		config_version INTEGER NOT NULL DEFAULT 1,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id                   TEXT PRIMARY KEY,
		project_id           TEXT NOT NULL REFERENCES projects (id),
		experience_id        TEXT NOT NULL REFERENCES experiences (id),
		responses            JSONB,
		job_id               TEXT,
		job_status           TEXT,
		result_media         JSONB,
		recipient_address    TEXT,
		notification_sent_at TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL,
		session_id    TEXT NOT NULL REFERENCES sessions (id),
		experience_id TEXT NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
		snapshot      JSONB NOT NULL,
		output        JSONB,
		error_kind    TEXT,
		error_message TEXT,
		attempts      INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL,
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active_per_session
		ON jobs (session_id) WHERE status IN ('pending', 'running')`,
	`CREATE INDEX IF NOT EXISTS jobs_status_created_idx ON jobs (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS jobs_session_created_idx ON jobs (session_id, created_at DESC, id DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		overlays   TEXT,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS experiences (
		id             TEXT PRIMARY KEY,
		project_id     TEXT NOT NULL REFERENCES projects (id),
		name           TEXT NOT NULL DEFAULT '',
		media_type     TEXT NOT NULL,
		aspect_ratio   TEXT NOT NULL,
		apply_overlay  BOOLEAN NOT NULL DEFAULT 0,
		steps          TEXT,
		outcome        TEXT NOT NULL,
		config_version INTEGER NOT NULL DEFAULT 1,
		updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id                   TEXT PRIMARY KEY,
		project_id           TEXT NOT NULL REFERENCES projects (id),
		experience_id        TEXT NOT NULL REFERENCES experiences (id),
		responses            TEXT,
		job_id               TEXT,
		job_status           TEXT,
		result_media         TEXT,
		recipient_address    TEXT,
		notification_sent_at TIMESTAMP,
		created_at           TIMESTAMP NOT NULL,
		updated_at           TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL,
		session_id    TEXT NOT NULL REFERENCES sessions (id),
		experience_id TEXT NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
		snapshot      TEXT NOT NULL,
		output        TEXT,
		error_kind    TEXT,
		error_message TEXT,
		attempts      INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL,
		started_at    TIMESTAMP,
		completed_at  TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active_per_session
		ON jobs (session_id) WHERE status IN ('pending', 'running')`,
	`CREATE INDEX IF NOT EXISTS jobs_status_created_idx ON jobs (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS jobs_session_created_idx ON jobs (session_id, created_at DESC, id DESC)`,
}

func schemaFor(driver string) ([]string, error) {
	switch driver {
	case database.DriverPostgres:
		return postgresSchema, nil
	case database.DriverSQLite:
		return sqliteSchema, nil
	default:
		return nil, fmt.Errorf("no schema for driver %q", driver)
	}
}
