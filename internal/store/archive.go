package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ArchiveStatus is the forwarding state of an archived submission.
type ArchiveStatus string

const (
	ArchiveStatusPending   ArchiveStatus = "pending"
	ArchiveStatusSending   ArchiveStatus = "sending"
	ArchiveStatusForwarded ArchiveStatus = "forwarded"
)

// ArchivedSubmission is a submission kept locally after the task board refused it.
type ArchivedSubmission struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Category      string        `json:"category"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Status        ArchiveStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error,omitempty"`
	CardID        string        `json:"card_id,omitempty"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty"`
	LockedAt      *time.Time    `json:"locked_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Archive durably keeps submissions that could not be delivered.
type Archive interface {
	Append(ctx context.Context, sub models.Submission) error
	Close() error
}

// RetryableArchive is an Archive whose entries can be forwarded later.
type RetryableArchive interface {
	Archive
	// ClaimDue marks up to limit pending entries due at now as sending and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]ArchivedSubmission, error)
	MarkForwarded(ctx context.Context, id, cardID string) error
	MarkFailed(ctx context.Context, id, errMsg string, nextAttempt time.Time) error
	// RequeueStale returns entries stuck in sending since before the cutoff to pending.
	RequeueStale(ctx context.Context, before time.Time) (int, error)
}

// NewArchive opens the archive backend matching the DSN.
func NewArchive(dsn string) (Archive, error) {
	switch DetectDSNType(dsn) {
	case DSNTypePostgres:
		return NewPostgresStore(WithPostgresDSN(dsn))
	case DSNTypeFile:
		return NewFileArchive(WithFilePath(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

// Markers framing each record in the plain-text archive.
const (
	fileRecordStart = "--- НОВАЯ ЗАЯВКА: %s ---\n"
	fileRecordEnd   = "\n--- КОНЕЦ ЗАЯВКИ ---\n"
)

// FileArchive appends human-readable records to a text file. It cannot be retried.
type FileArchive struct {
	mu   sync.Mutex
	path string
}

// NewFileArchive creates the archive, making sure the parent directory exists.
func NewFileArchive(opts ...Option) (*FileArchive, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive file path not set")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DSN), DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	slog.Debug("FileArchive created", "path", cfg.DSN)
	return &FileArchive{path: cfg.DSN}, nil
}

// Append implements Archive.
func (f *FileArchive) Append(ctx context.Context, sub models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open archive file %s: %w", f.path, err)
	}
	defer file.Close()

	record := "\n\n" + fmt.Sprintf(fileRecordStart, sub.Title) + sub.Description + fileRecordEnd
	if _, err := file.WriteString(record); err != nil {
		return fmt.Errorf("failed to write archive record: %w", err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("FileArchive.Append: sync failed", "error", err, "path", f.path)
	}
	slog.Info("FileArchive.Append: submission archived", "id", sub.ID, "userID", sub.UserID)
	return nil
}

// Close implements Archive.
func (f *FileArchive) Close() error {
	return nil
}
