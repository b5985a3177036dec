// Package storage persists jobs and the session fields the pipeline owns.
//
// Queries are written with "?" placeholders and rebound per driver, so the same
// store runs against PostgreSQL (lib/pq) and SQLite (modernc). Every write to a
// session is a narrow, field-scoped UPDATE; job transitions and their session
// mirror are committed in one transaction.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transform-pipeline/shared/database"
	"github.com/jmoiron/sqlx"
)

// Store handles all database operations of the pipeline
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store instance
func NewStore(client *database.Client, logger *slog.Logger) *Store {
	return NewStoreFromDB(client.GetDB(), logger)
}

// NewStoreFromDB wraps an already opened sqlx handle
func NewStoreFromDB(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Migrate creates the schema when it does not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	statements, err := schemaFor(s.db.DriverName())
	if err != nil {
		return err
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	s.logger.Info("Database schema ready",
		slog.String("driver", s.db.DriverName()),
		slog.Int("statements", len(statements)),
	)
	return nil
}

// withTx runs fn in a transaction, committing only when fn succeeds
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("Failed to roll back transaction",
				slog.String("error", rbErr.Error()),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// marshalNullable encodes v as JSON text, or SQL NULL when v is a nil pointer/map
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalNullable[T any](src sql.NullString) (*T, error) {
	if !src.Valid || src.String == "" || src.String == "null" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(src.String), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func unmarshalInto(src string, dst any) error {
	return json.Unmarshal([]byte(src), dst)
}
