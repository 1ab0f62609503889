package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func TestParseWaAPIPayloadShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    models.InboundEvent
	}{
		{
			name:    "event message",
			payload: `{"event":"message","data":{"message":{"body":"  1 ","from":"77011234567@c.us","id":{"_serialized":"false_7701@c.us_ABC"},"type":"chat"}}}`,
			want:    models.InboundEvent{UserID: "77011234567", Text: "1", MessageID: "false_7701@c.us_ABC"},
		},
		{
			name:    "event message with media",
			payload: `{"event":"message","data":{"message":{"body":"/9j/4AAQ","from":"7702@c.us","id":"m2","hasMedia":true,"type":"image"},"media":{"url":"https://cdn/id.jpg","filename":"id.jpg","mimetype":"image/jpeg"}}}`,
			want: models.InboundEvent{UserID: "7702", MessageID: "m2",
				Attachment: &models.Attachment{URL: "https://cdn/id.jpg", Filename: "id.jpg", MimeType: "image/jpeg"}},
		},
		{
			name:    "messages array with text",
			payload: `{"messages":[{"text":{"body":"Almaty"},"from":"7703@c.us","id":"m3"}]}`,
			want:    models.InboundEvent{UserID: "7703", Text: "Almaty", MessageID: "m3"},
		},
		{
			name:    "messages array with caption",
			payload: `{"messages":[{"caption":"tech passport","from":"7704@c.us"}]}`,
			want:    models.InboundEvent{UserID: "7704", Text: "tech passport"},
		},
		{
			name:    "messages array with document",
			payload: `{"messages":[{"from":"7705","id":"m5","document":{"link":"https://cdn/doc.pdf","filename":"doc.pdf","mime_type":"application/pdf"}}]}`,
			want: models.InboundEvent{UserID: "7705", MessageID: "m5",
				Attachment: &models.Attachment{URL: "https://cdn/doc.pdf", Filename: "doc.pdf", MimeType: "application/pdf"}},
		},
		{
			name:    "unknown shape uses structural search",
			payload: `{"payload":{"sender":{"from":"7706@c.us"},"content":[{"kind":"text","body":" 45000 "}]}}`,
			want:    models.InboundEvent{UserID: "7706", Text: "45000"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseWaAPIPayload([]byte(tt.payload))
			if !ok {
				t.Fatal("expected payload to be routable")
			}
			if got.UserID != tt.want.UserID || got.Text != tt.want.Text || got.MessageID != tt.want.MessageID {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.Source != models.SourceWaAPI {
				t.Errorf("unexpected source %q", got.Source)
			}
			if (got.Attachment == nil) != (tt.want.Attachment == nil) {
				t.Fatalf("attachment mismatch: got %+v", got.Attachment)
			}
			if tt.want.Attachment != nil && *got.Attachment != *tt.want.Attachment {
				t.Errorf("got attachment %+v, want %+v", *got.Attachment, *tt.want.Attachment)
			}
		})
	}
}

func TestParseWaAPIPayloadUnroutable(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"event":"ack","status":"read"}`,
		`{"event":"message","data":{"message":{"body":"hi","from":"7701@c.us","fromMe":true}}}`,
		`{"event":"message","data":{"message":{"body":"   ","from":"7701@c.us"}}}`,
		`{"messages":[{"text":{"body":"hi"}}]}`,
		`{"from":"no-at-sign","body":"hi"}`,
	} {
		if evt, ok := ParseWaAPIPayload([]byte(payload)); ok {
			t.Errorf("payload %s should not be routable, got %+v", payload, evt)
		}
	}
}

func TestExtractFieldsDepthLimit(t *testing.T) {
	deep := `{"body":"top","x":` + strings.Repeat(`{"a":`, 12) + `{"from":"7701@c.us"}` + strings.Repeat(`}`, 12) + `}`
	if _, ok := ParseWaAPIPayload([]byte(deep)); ok {
		t.Error("sender nested past the depth limit should not be found")
	}

	shallow := `{"body":"top","x":` + strings.Repeat(`{"a":`, 3) + `{"from":"7701@c.us"}` + strings.Repeat(`}`, 3) + `}`
	evt, ok := ParseWaAPIPayload([]byte(shallow))
	if !ok || evt.UserID != "7701" || evt.Text != "top" {
		t.Errorf("unexpected result %+v ok=%v", evt, ok)
	}
}

func TestParseWaAPIForm(t *testing.T) {
	evt, ok := parseWaAPIForm(url.Values{"Body": {" 2 "}, "From": {"whatsapp:+77011234567"}})
	if !ok {
		t.Fatal("expected form to be routable")
	}
	if evt.UserID != "77011234567" || evt.Text != "2" {
		t.Errorf("unexpected event %+v", evt)
	}
	if _, ok := parseWaAPIForm(url.Values{"body": {"hi"}}); ok {
		t.Error("form without sender should not be routable")
	}
}

func newWebhookRequest(method, contentType, body string) *http.Request {
	r := httptest.NewRequest(method, "/webhook", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

func TestWebhookHandlerEmitsEvents(t *testing.T) {
	svc := NewLogService()
	defer svc.Stop()

	w := httptest.NewRecorder()
	svc.WebhookHandler(w, newWebhookRequest(http.MethodPost, "application/json",
		`{"event":"message","data":{"message":{"body":"1","from":"7701@c.us","id":"m1"}}}`))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}

	select {
	case evt := <-svc.Events():
		if evt.UserID != "7701" || evt.MessageID != "m1" || evt.ReceivedAt.IsZero() {
			t.Errorf("unexpected event %+v", evt)
		}
	default:
		t.Fatal("expected an inbound event")
	}

	w = httptest.NewRecorder()
	svc.WebhookHandler(w, newWebhookRequest(http.MethodPost, "application/x-www-form-urlencoded", "body=hi&from=7702%40c.us"))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if evt := <-svc.Events(); evt.UserID != "7702" || evt.Text != "hi" {
		t.Errorf("unexpected form event %+v", evt)
	}
}

func TestWebhookHandlerAcknowledgesNoise(t *testing.T) {
	svc := NewLogService()
	defer svc.Stop()

	for _, r := range []*http.Request{
		newWebhookRequest(http.MethodGet, "", ""),
		newWebhookRequest(http.MethodPost, "application/json", ""),
		newWebhookRequest(http.MethodPost, "application/json", `{"event":"ack"}`),
	} {
		w := httptest.NewRecorder()
		svc.WebhookHandler(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("%s %q: unexpected status %d", r.Method, r.Header.Get("Content-Type"), w.Code)
		}
	}
	select {
	case evt := <-svc.Events():
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

func TestWebhookHandlerAfterStop(t *testing.T) {
	svc := NewLogService()
	svc.Stop()
	w := httptest.NewRecorder()
	svc.WebhookHandler(w, newWebhookRequest(http.MethodPost, "application/json", `{"messages":[{"body":"x","from":"7701"}]}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after stop, got %d", w.Code)
	}
}

func TestWebhookHandlerRejectsOversizedBody(t *testing.T) {
	svc := NewLogService()
	defer svc.Stop()

	payload := `{"event":"message","data":{"message":{"from":"7701@c.us","id":"big","body":"` +
		strings.Repeat("a", maxWebhookBody) + `"}}}`
	w := httptest.NewRecorder()
	svc.WebhookHandler(w, newWebhookRequest(http.MethodPost, "application/json", payload))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for an oversized body, got %d", w.Code)
	}
	select {
	case evt := <-svc.Events():
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

func TestWaAPIServiceSendMessage(t *testing.T) {
	var (
		gotAuth string
		gotPath string
		gotBody waAPISendRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	svc, err := NewWaAPIService(WithWaAPIBaseURL(srv.URL+"/api/v1/"), WithWaAPIToken("tok"), WithWaAPIInstanceID("42"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.Stop()

	if err := svc.SendMessage(context.Background(), "+7 701 123-45-67", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotPath != "/api/v1/instances/42/client/action/send-message" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody.ChatID != "77011234567@c.us" || gotBody.Message != "hello" || !gotBody.PreviewLink {
		t.Errorf("unexpected body %+v", gotBody)
	}
}

func TestWaAPIServiceSendMessageFailures(t *testing.T) {
	status := http.StatusOK
	reply := `{"status":"error","message":"instance not ready"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	defer srv.Close()

	svc, err := NewWaAPIService(WithWaAPIBaseURL(srv.URL), WithWaAPIToken("tok"), WithWaAPIInstanceID("1"),
		WithWaAPIHTTPClient(&http.Client{Timeout: time.Second}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.SendMessage(context.Background(), "77011234567", "x"); err == nil {
		t.Error("expected error for rejected send")
	}
	status, reply = http.StatusInternalServerError, "boom"
	if err := svc.SendMessage(context.Background(), "77011234567", "x"); err == nil {
		t.Error("expected error for 500")
	}
	if err := svc.SendMessage(context.Background(), "123", "x"); err == nil {
		t.Error("expected validation error for short number")
	}

	svc.Stop()
	if err := svc.SendMessage(context.Background(), "77011234567", "x"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestNewWaAPIServiceRequiresConfig(t *testing.T) {
	if _, err := NewWaAPIService(WithWaAPIToken("tok")); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewWaAPIService(WithWaAPIBaseURL("http://x"), WithWaAPIInstanceID("1")); err == nil {
		t.Error("expected error without token")
	}
}
