package store

import (
	"database/sql"
	"fmt"
)

const archivedColumns = `id, user_id, category, title, description, status, attempts,
	last_error, card_id, next_attempt_at, locked_at, created_at, updated_at`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanArchived scans one archived_submissions row selected with archivedColumns.
func scanArchived(row rowScanner) (ArchivedSubmission, error) {
	var a ArchivedSubmission
	var status string
	var lastError, cardID sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.UserID, &a.Category, &a.Title, &a.Description, &status, &a.Attempts,
		&lastError, &cardID, &nextAttemptAt, &lockedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, fmt.Errorf("scan archived submission failed: %w", err)
	}
	a.Status = ArchiveStatus(status)
	a.LastError = lastError.String
	a.CardID = cardID.String
	if nextAttemptAt.Valid {
		a.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		a.LockedAt = &lockedAt.Time
	}
	return a, nil
}
