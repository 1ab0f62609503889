package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/allegro/bigcache/v3"
)

// SessionStore keeps one Session per user for the life of the process.
type SessionStore interface {
	// GetOrCreate returns the user's session, creating the initial one on first contact.
	GetOrCreate(userID string) (models.Session, error)
	// Put replaces the user's session.
	Put(userID string, s models.Session) error
}

// MemorySessionStore is a map-backed SessionStore.
type MemorySessionStore struct {
	mu          sync.RWMutex
	sessions    map[string]models.Session
	defaultLang models.Language
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore(opts ...Option) *MemorySessionStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemorySessionStore{
		sessions:    make(map[string]models.Session),
		defaultLang: models.Language(cfg.DefaultLang),
	}
}

// GetOrCreate implements SessionStore.
func (m *MemorySessionStore) GetOrCreate(userID string) (models.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	m.mu.RUnlock()
	if ok {
		return s.Clone(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s.Clone(), nil
	}
	s = models.NewSession(userID, m.defaultLang)
	s.UpdatedAt = time.Now()
	m.sessions[userID] = s
	slog.Debug("MemorySessionStore.GetOrCreate: created session", "userID", userID, "language", s.Language)
	return s.Clone(), nil
}

// Put implements SessionStore.
func (m *MemorySessionStore) Put(userID string, s models.Session) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}
	s.UpdatedAt = time.Now()
	m.mu.Lock()
	m.sessions[userID] = s.Clone()
	m.mu.Unlock()
	return nil
}

// Len returns the number of sessions held.
func (m *MemorySessionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// noExpiry keeps cache entries for the life of the process.
const noExpiry = 100 * 365 * 24 * time.Hour

// CacheSessionStore keeps JSON-encoded sessions in a bigcache instance.
// Entries expire after the configured TTL; an expired user starts over at Initial.
type CacheSessionStore struct {
	cache       *bigcache.BigCache
	defaultLang models.Language
}

// NewCacheSessionStore creates a bigcache-backed session store.
func NewCacheSessionStore(opts ...Option) (*CacheSessionStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	life := noExpiry
	if cfg.SessionTTL > 0 {
		life = time.Duration(cfg.SessionTTL) * time.Second
	}
	bc := bigcache.DefaultConfig(life)
	if cfg.SessionTTL <= 0 {
		bc.CleanWindow = 0
	}
	bc.Verbose = false

	cache, err := bigcache.NewBigCache(bc)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	slog.Debug("CacheSessionStore created", "ttl", cfg.SessionTTL)
	return &CacheSessionStore{cache: cache, defaultLang: models.Language(cfg.DefaultLang)}, nil
}

// GetOrCreate implements SessionStore.
func (c *CacheSessionStore) GetOrCreate(userID string) (models.Session, error) {
	data, err := c.cache.Get(userID)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			s := models.NewSession(userID, c.defaultLang)
			if err := c.Put(userID, s); err != nil {
				return models.Session{}, err
			}
			slog.Debug("CacheSessionStore.GetOrCreate: created session", "userID", userID)
			return s, nil
		}
		return models.Session{}, fmt.Errorf("failed to read session for %s: %w", userID, err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return models.Session{}, fmt.Errorf("failed to decode session for %s: %w", userID, err)
	}
	if s.Fields == nil {
		s.Fields = map[models.FieldKey]models.FieldValue{}
	}
	return s, nil
}

// Put implements SessionStore.
func (c *CacheSessionStore) Put(userID string, s models.Session) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}
	s.UpdatedAt = time.Now()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session for %s: %w", userID, err)
	}
	if err := c.cache.Set(userID, data); err != nil {
		return fmt.Errorf("failed to store session for %s: %w", userID, err)
	}
	return nil
}

// Close releases the cache.
func (c *CacheSessionStore) Close() error {
	return c.cache.Close()
}
