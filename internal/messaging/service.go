// Package messaging connects LeadPipe to WhatsApp gateways. Each Service turns
// gateway traffic into models.InboundEvent values and delivers text replies.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an emitter waits on a full channel before dropping
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest recipient accepted after canonicalization
	minPhoneDigits = 6
)

// ErrServiceStopped is returned when a stopped service is asked to send.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error

	// Events returns the channel of normalized inbound messages.
	Events() <-chan models.InboundEvent
}

// WebhookReceiver is implemented by services that take inbound traffic on the
// generic /webhook endpoint.
type WebhookReceiver interface {
	WebhookHandler(w http.ResponseWriter, r *http.Request)
}

// canonicalizePhone strips every non-digit from recipient.
func canonicalizePhone(service, recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug(service+" canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// userIDFromAddress reduces a gateway address such as "whatsapp:+7701@c.us"
// to the bare id used as the session key.
func userIDFromAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "whatsapp:")
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	return strings.TrimPrefix(addr, "+")
}

// eventQueue is the inbound side shared by every service: a buffered channel
// that tolerates emits racing with Stop.
type eventQueue struct {
	name    string
	mu      sync.RWMutex
	stopped bool
	events  chan models.InboundEvent
}

func newEventQueue(name string) *eventQueue {
	return &eventQueue{name: name, events: make(chan models.InboundEvent, DefaultChannelBufferSize)}
}

func (q *eventQueue) Events() <-chan models.InboundEvent {
	return q.events
}

func (q *eventQueue) isStopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}

// emit queues evt and reports whether it was accepted. The read lock is held
// across the send so close cannot run underneath it.
func (q *eventQueue) emit(evt models.InboundEvent) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		slog.Warn(q.name+" dropping inbound event (service stopped)", "userID", evt.UserID)
		return false
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now()
	}

	timer := time.NewTimer(DefaultChannelTimeout)
	defer timer.Stop()
	select {
	case q.events <- evt:
		slog.Debug(q.name+" emitted inbound event", "userID", evt.UserID, "messageID", evt.MessageID)
		return true
	case <-timer.C:
		slog.Warn(q.name+" events channel blocked, dropping message", "userID", evt.UserID, "timeout", DefaultChannelTimeout)
		return false
	}
}

// close marks the queue stopped and closes the channel once.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.events)
}
