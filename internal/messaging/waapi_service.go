package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/tidwall/gjson"
)

// maxWebhookBody caps the size of an accepted webhook payload.
const maxWebhookBody = 1 << 20

// WaAPIOpts holds configuration options for the waApi gateway.
type WaAPIOpts struct {
	BaseURL    string
	Token      string
	InstanceID string
	HTTPClient *http.Client
}

// WaAPIOption defines a configuration option for the waApi gateway.
type WaAPIOption func(*WaAPIOpts)

// WithWaAPIBaseURL sets the waApi host, e.g. https://waapi.app/api/v1.
func WithWaAPIBaseURL(u string) WaAPIOption {
	return func(o *WaAPIOpts) { o.BaseURL = u }
}

// WithWaAPIToken sets the bearer token for outbound calls.
func WithWaAPIToken(token string) WaAPIOption {
	return func(o *WaAPIOpts) { o.Token = token }
}

// WithWaAPIInstanceID sets the waApi instance messages are sent from.
func WithWaAPIInstanceID(id string) WaAPIOption {
	return func(o *WaAPIOpts) { o.InstanceID = id }
}

// WithWaAPIHTTPClient replaces the default HTTP client.
func WithWaAPIHTTPClient(c *http.Client) WaAPIOption {
	return func(o *WaAPIOpts) { o.HTTPClient = c }
}

// webhookInbox parses waApi webhook requests onto an event queue. It is shared
// by the waApi and log services.
type webhookInbox struct {
	*eventQueue
}

// WebhookHandler accepts waApi JSON payloads and form posts on /webhook.
// Unroutable payloads are acknowledged so the gateway does not retry them.
func (in webhookInbox) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Webhook is active")
		return
	}
	if r.ContentLength == 0 {
		slog.Warn(in.name + " received empty webhook request")
		fmt.Fprint(w, "OK")
		return
	}

	var (
		evt models.InboundEvent
		ok  bool
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				slog.Error(in.name+" webhook body over limit", "limit", tooLarge.Limit)
				http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			slog.Error(in.name+" failed to read webhook body", "error", err)
			fmt.Fprint(w, "OK")
			return
		}
		evt, ok = ParseWaAPIPayload(body)
	} else {
		if err := r.ParseForm(); err != nil {
			slog.Error(in.name+" failed to parse webhook form", "error", err)
			fmt.Fprint(w, "OK")
			return
		}
		evt, ok = parseWaAPIForm(r.PostForm)
	}
	if !ok {
		slog.Warn(in.name + " webhook payload carried no routable message")
		fmt.Fprint(w, "OK")
		return
	}

	slog.Info("Inbound WhatsApp message", "service", in.name, "userID", evt.UserID, "messageID", evt.MessageID, "hasAttachment", evt.Attachment != nil)
	if !in.emit(evt) {
		// Let the gateway redeliver; the dedup ledger absorbs repeats.
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprint(w, "OK")
}

// WaAPIService implements Service on top of the waApi HTTP gateway.
type WaAPIService struct {
	webhookInbox
	sendURL string
	token   string
	cl      *http.Client
}

// NewWaAPIService creates a waApi-backed service.
func NewWaAPIService(opts ...WaAPIOption) (*WaAPIService, error) {
	var cfg WaAPIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" || cfg.InstanceID == "" {
		return nil, fmt.Errorf("waapi base URL and instance id must be provided")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("waapi token must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	slog.Debug("WaAPIService config loaded", "baseURL", cfg.BaseURL, "instanceID", cfg.InstanceID)

	return &WaAPIService{
		webhookInbox: webhookInbox{newEventQueue("WaAPIService")},
		sendURL:      fmt.Sprintf("%s/instances/%s/client/action/send-message", strings.TrimRight(cfg.BaseURL, "/"), cfg.InstanceID),
		token:        cfg.Token,
		cl:           cfg.HTTPClient,
	}, nil
}

// ValidateAndCanonicalizeRecipient strips a recipient down to its digits.
func (s *WaAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("WaAPIService", recipient)
}

// Start is a no-op; inbound traffic arrives through WebhookHandler.
func (s *WaAPIService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel.
func (s *WaAPIService) Stop() error {
	s.close()
	slog.Info("WaAPIService stopped and channels closed")
	return nil
}

type waAPISendRequest struct {
	ChatID      string `json:"chatId"`
	Message     string `json:"message"`
	PreviewLink bool   `json:"previewLink"`
}

// SendMessage delivers body to the chat <digits>@c.us.
func (s *WaAPIService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WaAPIService SendMessage validation error", "error", err, "to", to)
		return err
	}

	payload, err := json.Marshal(waAPISendRequest{ChatID: canonicalTo + "@c.us", Message: body, PreviewLink: true})
	if err != nil {
		return fmt.Errorf("failed to encode waapi request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build waapi request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.cl.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("waapi send to %s failed with code %d: %s", canonicalTo, resp.StatusCode, string(respBody))
	}
	if status := gjson.GetBytes(respBody, "status"); status.Exists() && status.String() != "success" {
		return fmt.Errorf("waapi send to %s rejected: %s", canonicalTo, string(respBody))
	}
	slog.Debug("WaAPIService message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}
