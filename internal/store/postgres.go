// Package store provides storage backends for LeadPipe.
//
// This file implements a PostgreSQL-backed submission archive.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a RetryableArchive on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Append implements Archive.
func (s *PostgresStore) Append(ctx context.Context, sub models.Submission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO archived_submissions
			(id, user_id, category, title, description, status, attempts, next_attempt_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		sub.ID, sub.UserID, string(sub.Category), sub.Title, sub.Description, string(ArchiveStatusPending))
	if err != nil {
		slog.Error("PostgresStore.Append failed", "error", err, "id", sub.ID)
		return fmt.Errorf("failed to archive submission %s: %w", sub.ID, err)
	}
	slog.Info("PostgresStore.Append: submission archived", "id", sub.ID, "userID", sub.UserID)
	return nil
}

// ClaimDue implements RetryableArchive.
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]ArchivedSubmission, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE archived_submissions SET status = $1, locked_at = $2, updated_at = $2
		 WHERE id IN (
			SELECT id FROM archived_submissions
			WHERE status = $3 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+archivedColumns,
		string(ArchiveStatusSending), now, string(ArchiveStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due submissions: %w", err)
	}
	defer rows.Close()

	var claimed []ArchivedSubmission
	for rows.Next() {
		a, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed submissions: %w", err)
	}
	return claimed, nil
}

// MarkForwarded implements RetryableArchive.
func (s *PostgresStore) MarkForwarded(ctx context.Context, id, cardID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE archived_submissions SET status = $1, card_id = $2, locked_at = NULL, updated_at = NOW() WHERE id = $3`,
		string(ArchiveStatusForwarded), nilIfEmpty(cardID), id)
	if err != nil {
		return fmt.Errorf("failed to mark submission %s forwarded: %w", id, err)
	}
	return nil
}

// MarkFailed implements RetryableArchive.
func (s *PostgresStore) MarkFailed(ctx context.Context, id, errMsg string, nextAttempt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE archived_submissions
		 SET status = $1, attempts = attempts + 1, last_error = $2, next_attempt_at = $3, locked_at = NULL, updated_at = NOW()
		 WHERE id = $4`,
		string(ArchiveStatusPending), nilIfEmpty(errMsg), nextAttempt, id)
	if err != nil {
		return fmt.Errorf("failed to mark submission %s failed: %w", id, err)
	}
	return nil
}

// RequeueStale implements RetryableArchive.
func (s *PostgresStore) RequeueStale(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE archived_submissions SET status = $1, locked_at = NULL, updated_at = NOW()
		 WHERE status = $2 AND locked_at < $3`,
		string(ArchiveStatusPending), string(ArchiveStatusSending), before)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale submissions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Get returns one archived submission by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (ArchivedSubmission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+archivedColumns+` FROM archived_submissions WHERE id = $1`, id)
	return scanArchived(row)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
