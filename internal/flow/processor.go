package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/catalog"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrMalformedEvent is returned for events without a user or without content.
	ErrMalformedEvent = errors.New("malformed inbound event")
	// ErrDuplicateEvent is returned for redeliveries already handled.
	ErrDuplicateEvent = errors.New("duplicate inbound event")
)

// ReplySender delivers one text message to a user.
type ReplySender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Processor runs one inbound event through dedup, the session store, the engine
// and the sinks. Events of the same user are handled one at a time.
type Processor struct {
	engine     *Engine
	sessions   store.SessionStore
	ledger     store.Ledger
	dispatcher Dispatcher
	replies    ReplySender
	messages   catalog.Lookuper
	locks      *keyedMutex
	newID      func() string
	now        func() time.Time
}

// NewProcessor wires a Processor. dispatcher may be nil when submissions are only logged.
func NewProcessor(engine *Engine, sessions store.SessionStore, ledger store.Ledger,
	dispatcher Dispatcher, replies ReplySender, messages catalog.Lookuper) *Processor {
	return &Processor{
		engine:     engine,
		sessions:   sessions,
		ledger:     ledger,
		dispatcher: dispatcher,
		replies:    replies,
		messages:   messages,
		locks:      newKeyedMutex(),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Handle processes one event. Dropped events return ErrMalformedEvent or
// ErrDuplicateEvent; sink failures are logged and never returned.
func (p *Processor) Handle(ctx context.Context, evt models.InboundEvent) (err error) {
	if !evt.Valid() {
		slog.Debug("Processor.Handle: dropping malformed event", "userID", evt.UserID, "messageID", evt.MessageID)
		return ErrMalformedEvent
	}
	if p.ledger != nil && p.ledger.Seen(evt.MessageID, evt.UserID) {
		slog.Info("Processor.Handle: dropping duplicate delivery", "userID", evt.UserID, "messageID", evt.MessageID)
		return ErrDuplicateEvent
	}

	unlock := p.locks.Lock(evt.UserID)
	defer unlock()

	lang := models.LanguageRU
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Processor.Handle: recovered from panic", "userID", evt.UserID, "panic", r, "stack", string(debug.Stack()))
			p.sendTryLater(ctx, evt.UserID, lang)
			err = fmt.Errorf("panic while handling event from %s: %v", evt.UserID, r)
		}
	}()

	session, err := p.sessions.GetOrCreate(evt.UserID)
	if err != nil {
		slog.Error("Processor.Handle: failed to load session", "userID", evt.UserID, "error", err)
		p.sendTryLater(ctx, evt.UserID, lang)
		return fmt.Errorf("failed to load session: %w", err)
	}
	lang = session.Language

	res := p.engine.Transition(session, evt)
	lang = res.Session.Language
	if err := p.sessions.Put(evt.UserID, res.Session); err != nil {
		slog.Error("Processor.Handle: failed to save session", "userID", evt.UserID, "error", err)
		p.sendTryLater(ctx, evt.UserID, lang)
		return fmt.Errorf("failed to save session: %w", err)
	}
	slog.Debug("Processor.Handle: transition committed", "userID", evt.UserID,
		"from", session.State, "to", res.Session.State, "replies", len(res.Replies), "submit", res.Submit)

	if res.Submit {
		p.submit(ctx, res.Session)
	}
	for _, body := range res.Replies {
		p.send(ctx, evt.UserID, body)
	}
	return nil
}

func (p *Processor) submit(ctx context.Context, s models.Session) {
	title, description, err := FormatSubmission(s.Category, s.Fields, s.UserID)
	if err != nil {
		slog.Error("Processor.submit: failed to format submission", "userID", s.UserID, "category", s.Category, "error", err)
		return
	}
	sub := models.Submission{
		ID:          p.newID(),
		UserID:      s.UserID,
		Category:    s.Category,
		Language:    s.Language,
		Title:       title,
		Description: description,
		Fields:      s.Clone().Fields,
		CreatedAt:   p.now(),
	}
	if p.dispatcher == nil {
		slog.Warn("Processor.submit: no dispatcher configured", "id", sub.ID, "title", sub.Title, "description", sub.Description)
		return
	}
	out := p.dispatcher.Dispatch(ctx, sub)
	slog.Info("Processor.submit: submission dispatched", "id", sub.ID, "userID", sub.UserID,
		"cardID", out.CardID, "archived", out.Archived, "error", out.Err)
}

func (p *Processor) send(ctx context.Context, to, body string) {
	if p.replies == nil {
		return
	}
	if err := p.replies.SendMessage(ctx, to, body); err != nil {
		slog.Error("Processor.send: reply failed", "to", to, "error", err)
	}
}

func (p *Processor) sendTryLater(ctx context.Context, to string, lang models.Language) {
	if p.messages == nil {
		return
	}
	p.send(ctx, to, p.messages.Lookup(lang, catalog.KeyTryLater))
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
