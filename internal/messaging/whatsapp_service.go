package messaging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	*eventQueue
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // Access to underlying client for event handling
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		eventQueue: newEventQueue("WhatsAppService"),
		client:     client,
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient strips a recipient down to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("WhatsAppService", recipient)
}

// Start registers the message event handler on the live client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Disconnected:
			slog.Warn("WhatsAppService disconnected from server")
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop disconnects the client and closes the event channel.
func (s *WhatsAppService) Stop() error {
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	s.close()
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	return nil
}

// handleIncomingMessage converts text, image and document messages. Own
// messages, group chats and other message kinds are ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	in, ok := inboundFromMessage(evt.Message)
	if !ok {
		slog.Debug("WhatsAppService ignoring unsupported message", "from", evt.Info.Sender.String())
		return
	}
	in.UserID = strings.TrimPrefix(evt.Info.Sender.User, "+")
	in.MessageID = string(evt.Info.ID)
	in.Source = models.SourceWhatsApp
	in.ReceivedAt = evt.Info.Timestamp

	if !in.Valid() {
		return
	}
	s.emit(in)
}

func inboundFromMessage(msg *waE2E.Message) (models.InboundEvent, bool) {
	switch {
	case msg.GetConversation() != "":
		return models.InboundEvent{Text: strings.TrimSpace(msg.GetConversation())}, true
	case msg.GetExtendedTextMessage() != nil:
		return models.InboundEvent{Text: strings.TrimSpace(msg.GetExtendedTextMessage().GetText())}, true
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		return models.InboundEvent{
			Text:       strings.TrimSpace(img.GetCaption()),
			Attachment: &models.Attachment{URL: img.GetURL(), MimeType: img.GetMimetype()},
		}, true
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		return models.InboundEvent{
			Text:       strings.TrimSpace(doc.GetCaption()),
			Attachment: &models.Attachment{URL: doc.GetURL(), Filename: doc.GetFileName(), MimeType: doc.GetMimetype()},
		}, true
	default:
		return models.InboundEvent{}, false
	}
}
