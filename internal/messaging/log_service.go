package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// LogService accepts waApi-shaped webhooks but only logs outbound replies.
// It backs dry runs and local testing.
type LogService struct {
	webhookInbox
	mu   sync.Mutex
	sent int
}

// NewLogService creates a LogService.
func NewLogService() *LogService {
	return &LogService{webhookInbox: webhookInbox{newEventQueue("LogService")}}
}

// ValidateAndCanonicalizeRecipient strips a recipient down to its digits.
func (s *LogService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("LogService", recipient)
}

// Start is a no-op.
func (s *LogService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel.
func (s *LogService) Stop() error {
	s.close()
	return nil
}

// SendMessage logs the reply instead of delivering it.
func (s *LogService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	slog.Info("LogService reply", "to", to, "body", body)
	return nil
}

// Sent returns how many replies were logged.
func (s *LogService) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
