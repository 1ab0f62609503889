package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// DefaultBoardTimeout bounds a single task-board call.
const DefaultBoardTimeout = 15 * time.Second

// Board is the task-board sink for completed submissions.
type Board interface {
	Submit(ctx context.Context, title, description string) (models.BoardReceipt, error)
}

// Outcome reports where a submission ended up.
type Outcome struct {
	CardID   string
	Archived bool
	// Err is set only when both the board and the archive failed.
	Err error
}

// Dispatcher hands completed submissions to the board and archives them on failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub models.Submission) Outcome
}

// SubmissionDispatcher is the default Dispatcher.
type SubmissionDispatcher struct {
	board   Board
	archive store.Archive
	timeout time.Duration
}

// NewSubmissionDispatcher creates a dispatcher. A nil board sends everything to the archive.
func NewSubmissionDispatcher(board Board, archive store.Archive) *SubmissionDispatcher {
	return &SubmissionDispatcher{board: board, archive: archive, timeout: DefaultBoardTimeout}
}

var errBoardRejected = errors.New("task board did not accept the submission")

// Dispatch implements Dispatcher.
func (d *SubmissionDispatcher) Dispatch(ctx context.Context, sub models.Submission) Outcome {
	if d.board != nil {
		bctx, cancel := context.WithTimeout(ctx, d.timeout)
		receipt, err := d.board.Submit(bctx, sub.Title, sub.Description)
		cancel()
		if err == nil && receipt.Accepted {
			slog.Info("SubmissionDispatcher.Dispatch: card created", "id", sub.ID, "userID", sub.UserID, "cardID", receipt.ID)
			return Outcome{CardID: receipt.ID}
		}
		if err == nil {
			err = errBoardRejected
		}
		slog.Warn("SubmissionDispatcher.Dispatch: board failed, archiving locally", "id", sub.ID, "userID", sub.UserID, "error", err)
	}

	if d.archive == nil {
		slog.Error("SubmissionDispatcher.Dispatch: no archive configured, submission lost", "id", sub.ID, "title", sub.Title)
		return Outcome{Err: errors.New("no archive configured")}
	}
	// The archive write must not be cut short by a cancelled request context.
	if err := d.archive.Append(context.WithoutCancel(ctx), sub); err != nil {
		slog.Error("SubmissionDispatcher.Dispatch: archive failed", "id", sub.ID, "error", err,
			"title", sub.Title, "description", sub.Description)
		return Outcome{Err: err}
	}
	return Outcome{Archived: true}
}
