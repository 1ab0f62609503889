// Package store provides the bounded ledger for inbound message deduplication.
package store

import (
	"log/slog"
	"sync"
)

// Ledger defaults.
const (
	DefaultLedgerCapacity = 1000
	DefaultEvictPercent   = 20
)

// Ledger records which inbound deliveries have already been handled.
type Ledger interface {
	// Seen records the (messageID, userID) pair if it is new and reports whether
	// it had been recorded before. An empty messageID is never recorded.
	Seen(messageID, userID string) bool
}

type dedupKey struct {
	messageID string
	userID    string
}

// BoundedLedger is an in-memory Ledger that forgets its oldest entries once full.
// When the entry count exceeds the capacity, the oldest EvictPercent of the
// capacity is dropped in insertion order. A very late redelivery may therefore
// be processed twice.
type BoundedLedger struct {
	mu       sync.Mutex
	capacity int
	evict    int
	entries  map[dedupKey]struct{}
	order    []dedupKey
}

// NewBoundedLedger creates a ledger. Zero values fall back to 1000 entries and 20% eviction.
func NewBoundedLedger(opts ...Option) *BoundedLedger {
	cfg := Opts{LedgerLimit: DefaultLedgerCapacity, EvictPercent: DefaultEvictPercent}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.LedgerLimit <= 0 {
		cfg.LedgerLimit = DefaultLedgerCapacity
	}
	if cfg.EvictPercent <= 0 || cfg.EvictPercent > 100 {
		cfg.EvictPercent = DefaultEvictPercent
	}
	evict := cfg.LedgerLimit * cfg.EvictPercent / 100
	if evict < 1 {
		evict = 1
	}
	return &BoundedLedger{
		capacity: cfg.LedgerLimit,
		evict:    evict,
		entries:  make(map[dedupKey]struct{}, cfg.LedgerLimit+1),
		order:    make([]dedupKey, 0, cfg.LedgerLimit+1),
	}
}

// Seen implements Ledger.
func (l *BoundedLedger) Seen(messageID, userID string) bool {
	if messageID == "" {
		return false
	}
	k := dedupKey{messageID: messageID, userID: userID}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[k]; ok {
		return true
	}
	l.entries[k] = struct{}{}
	l.order = append(l.order, k)

	if len(l.order) > l.capacity {
		for _, old := range l.order[:l.evict] {
			delete(l.entries, old)
		}
		l.order = append(l.order[:0], l.order[l.evict:]...)
		slog.Debug("BoundedLedger.Seen: evicted oldest entries", "evicted", l.evict, "remaining", len(l.order))
	}
	return false
}

// Has reports whether the pair is currently recorded, without recording it.
func (l *BoundedLedger) Has(messageID, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[dedupKey{messageID: messageID, userID: userID}]
	return ok
}

// Len returns the number of recorded pairs.
func (l *BoundedLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}
