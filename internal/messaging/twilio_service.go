package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	*eventQueue
	client    twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
	validator *twiliowhatsapp.SignatureValidator
	publicURL string
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not
// match publicURL, the address Twilio is configured to call.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = twiliowhatsapp.NewSignatureValidator(authToken)
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService around client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		eventQueue: newEventQueue("TwilioService"),
		client:     client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient strips a recipient down to its digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("TwilioService", recipient)
}

// Start is a no-op for Twilio (no live client)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	s.close()
	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and emits them
// as models.InboundEvent into the Events() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.publicURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Twilio webhook signature mismatch", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	evt := models.InboundEvent{
		UserID:    userIDFromAddress(r.FormValue("From")),
		Text:      strings.TrimSpace(r.FormValue("Body")),
		MessageID: r.FormValue("MessageSid"),
		Source:    models.SourceTwilio,
	}
	if n, _ := strconv.Atoi(r.FormValue("NumMedia")); n > 0 && r.FormValue("MediaUrl0") != "" {
		evt.Attachment = &models.Attachment{
			URL:      r.FormValue("MediaUrl0"),
			MimeType: r.FormValue("MediaContentType0"),
		}
	}

	if !evt.Valid() {
		slog.Warn("Twilio webhook missing fields", "from", evt.UserID, "messageSid", evt.MessageID)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "userID", evt.UserID, "messageID", evt.MessageID, "hasAttachment", evt.Attachment != nil)
	if !s.emit(evt) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
