// Package store provides the ArchiveRetrier that forwards archived submissions.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ForwardFunc delivers an archived submission and returns the remote card id.
type ForwardFunc func(ctx context.Context, sub ArchivedSubmission) (string, error)

// ArchiveRetrier claims due archived submissions and tries to forward them again.
// Each sweep is triggered externally, typically by the cron scheduler.
type ArchiveRetrier struct {
	repo           RetryableArchive
	forward        ForwardFunc
	staleThreshold time.Duration
	claimLimit     int
	maxBackoff     time.Duration

	running sync.Mutex
}

// NewArchiveRetrier creates a new ArchiveRetrier.
func NewArchiveRetrier(repo RetryableArchive, forward ForwardFunc) *ArchiveRetrier {
	return &ArchiveRetrier{
		repo:           repo,
		forward:        forward,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		maxBackoff:     6 * time.Hour,
	}
}

// RecoverStale requeues submissions stuck in sending state (crash recovery).
// Should be called once at startup.
func (r *ArchiveRetrier) RecoverStale(ctx context.Context) error {
	n, err := r.repo.RequeueStale(ctx, time.Now().Add(-r.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("ArchiveRetrier.RecoverStale: requeued stale submissions", "count", n)
	}
	return nil
}

// Sweep forwards one batch of due submissions. Overlapping calls are skipped.
// It returns the number forwarded.
func (r *ArchiveRetrier) Sweep(ctx context.Context) int {
	if !r.running.TryLock() {
		slog.Debug("ArchiveRetrier.Sweep: previous sweep still running, skipping")
		return 0
	}
	defer r.running.Unlock()

	now := time.Now()
	subs, err := r.repo.ClaimDue(ctx, now, r.claimLimit)
	if err != nil {
		slog.Error("ArchiveRetrier.Sweep: claim failed", "error", err)
		return 0
	}

	forwarded := 0
	for _, sub := range subs {
		cardID, err := r.forward(ctx, sub)
		if err != nil {
			slog.Warn("ArchiveRetrier.Sweep: forward failed", "id", sub.ID, "attempts", sub.Attempts, "error", err)
			next := now.Add(r.backoff(sub.Attempts))
			if err := r.repo.MarkFailed(ctx, sub.ID, err.Error(), next); err != nil {
				slog.Error("ArchiveRetrier.Sweep: mark failed error", "id", sub.ID, "error", err)
			}
			continue
		}
		if err := r.repo.MarkForwarded(ctx, sub.ID, cardID); err != nil {
			slog.Error("ArchiveRetrier.Sweep: mark forwarded error", "id", sub.ID, "error", err)
			continue
		}
		forwarded++
		slog.Info("ArchiveRetrier.Sweep: submission forwarded", "id", sub.ID, "cardID", cardID)
	}
	return forwarded
}

// backoff is exponential: 10s, 20s, 40s, ... capped at maxBackoff.
func (r *ArchiveRetrier) backoff(attempts int) time.Duration {
	if attempts > 20 {
		return r.maxBackoff
	}
	d := time.Duration(10*(1<<attempts)) * time.Second
	if d > r.maxBackoff {
		return r.maxBackoff
	}
	return d
}
