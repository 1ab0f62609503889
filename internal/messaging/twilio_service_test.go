package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
)

func postTwilioForm(svc *TwilioService, form url.Values, signature string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		r.Header.Set("X-Twilio-Signature", signature)
	}
	w := httptest.NewRecorder()
	svc.TwilioWebhookHandler(w, r)
	return w
}

func TestTwilioWebhookHandlerText(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()

	w := postTwilioForm(svc, url.Values{
		"From":       {"whatsapp:+77011234567"},
		"Body":       {"1"},
		"MessageSid": {"SM123"},
		"NumMedia":   {"0"},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	evt := <-svc.Events()
	if evt.UserID != "77011234567" || evt.Text != "1" || evt.MessageID != "SM123" || evt.Attachment != nil {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestTwilioWebhookHandlerMedia(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()

	w := postTwilioForm(svc, url.Values{
		"From":              {"whatsapp:+77011234567"},
		"MessageSid":        {"MM1"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"image/jpeg"},
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	evt := <-svc.Events()
	if evt.Attachment == nil || evt.Attachment.URL != "https://api.twilio.com/media/ME1" || evt.Attachment.MimeType != "image/jpeg" {
		t.Errorf("unexpected attachment %+v", evt.Attachment)
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()

	if w := postTwilioForm(svc, url.Values{"Body": {"hi"}}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without sender, got %d", w.Code)
	}
	if w := postTwilioForm(svc, url.Values{"From": {"whatsapp:+7701"}}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without content, got %d", w.Code)
	}
}

func TestTwilioWebhookHandlerRejectsBadSignature(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(),
		WithSignatureValidation("auth-token", "https://leads.example.com/twilio/webhook"))
	defer svc.Stop()

	w := postTwilioForm(svc, url.Values{"From": {"whatsapp:+77011234567"}, "Body": {"1"}}, "bogus")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+7 (701) 123-45-67", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := mock.Messages()
	if len(msgs) != 1 || msgs[0].To != "77011234567" {
		t.Errorf("unexpected messages %+v", msgs)
	}

	svc.Stop()
	if err := svc.SendMessage(context.Background(), "77011234567", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestCanonicalizeAndUserID(t *testing.T) {
	if got, err := canonicalizePhone("test", "+7 701 123-45-67"); err != nil || got != "77011234567" {
		t.Errorf("canonicalizePhone = %q, %v", got, err)
	}
	for _, bad := range []string{"", "abc", "12345"} {
		if _, err := canonicalizePhone("test", bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}

	tests := map[string]string{
		"77011234567@c.us":      "77011234567",
		"whatsapp:+77011234567": "77011234567",
		" +77011234567 ":        "77011234567",
		"120363-1234@g.us":      "120363-1234",
		"77011234567":           "77011234567",
	}
	for in, want := range tests {
		if got := userIDFromAddress(in); got != want {
			t.Errorf("userIDFromAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLogServiceCountsReplies(t *testing.T) {
	svc := NewLogService()
	if err := svc.SendMessage(context.Background(), "7701", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Sent() != 1 {
		t.Errorf("expected 1 logged reply, got %d", svc.Sent())
	}
	svc.Stop()
	if err := svc.SendMessage(context.Background(), "7701", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
