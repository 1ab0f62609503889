// Package store provides storage backends for LeadPipe.
//
// This file implements an SQLite-backed submission archive.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a RetryableArchive on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer; serializing through one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Append implements Archive.
func (s *SQLiteStore) Append(ctx context.Context, sub models.Submission) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archived_submissions
			(id, user_id, category, title, description, status, attempts, next_attempt_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		sub.ID, sub.UserID, string(sub.Category), sub.Title, sub.Description,
		string(ArchiveStatusPending), now, now, now)
	if err != nil {
		slog.Error("SQLiteStore.Append failed", "error", err, "id", sub.ID)
		return fmt.Errorf("failed to archive submission %s: %w", sub.ID, err)
	}
	slog.Info("SQLiteStore.Append: submission archived", "id", sub.ID, "userID", sub.UserID)
	return nil
}

// ClaimDue implements RetryableArchive.
func (s *SQLiteStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]ArchivedSubmission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+archivedColumns+` FROM archived_submissions
		 WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at LIMIT ?`,
		string(ArchiveStatusPending), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due submissions: %w", err)
	}
	var claimed []ArchivedSubmission
	for rows.Next() {
		a, err := scanArchived(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due submissions: %w", err)
	}

	lockedAt := now.UTC()
	for i := range claimed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE archived_submissions SET status = ?, locked_at = ?, updated_at = ? WHERE id = ?`,
			string(ArchiveStatusSending), lockedAt, lockedAt, claimed[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim submission %s: %w", claimed[i].ID, err)
		}
		claimed[i].Status = ArchiveStatusSending
		claimed[i].LockedAt = &lockedAt
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

// MarkForwarded implements RetryableArchive.
func (s *SQLiteStore) MarkForwarded(ctx context.Context, id, cardID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE archived_submissions SET status = ?, card_id = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		string(ArchiveStatusForwarded), nilIfEmpty(cardID), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark submission %s forwarded: %w", id, err)
	}
	return nil
}

// MarkFailed implements RetryableArchive.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id, errMsg string, nextAttempt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE archived_submissions
		 SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ?
		 WHERE id = ?`,
		string(ArchiveStatusPending), nilIfEmpty(errMsg), nextAttempt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark submission %s failed: %w", id, err)
	}
	return nil
}

// RequeueStale implements RetryableArchive.
func (s *SQLiteStore) RequeueStale(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE archived_submissions SET status = ?, locked_at = NULL, updated_at = ?
		 WHERE status = ? AND locked_at < ?`,
		string(ArchiveStatusPending), time.Now().UTC(), string(ArchiveStatusSending), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale submissions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Get returns one archived submission by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (ArchivedSubmission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+archivedColumns+` FROM archived_submissions WHERE id = ?`, id)
	return scanArchived(row)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
