package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/testutil"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, s *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func nextEvent(t *testing.T, events <-chan models.InboundEvent) models.InboundEvent {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound event")
		return models.InboundEvent{}
	}
}

func TestStatusRoutes(t *testing.T) {
	s := NewServer(messaging.NewLogService(), WithTransportName(TransportLog))

	rr := serve(t, s, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/webhook")

	rr = serve(t, s, http.MethodGet, "/favicon.ico", "", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(t, s, http.MethodGet, "/healthz", "", "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
	resp := testutil.AssertJSONStatus(t, rr, "ok")
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok, "result should be an object")
	assert.Equal(t, TransportLog, result["transport"])

	rr = serve(t, s, http.MethodGet, "/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookRouteEmitsEvent(t *testing.T) {
	svc := messaging.NewLogService()
	s := NewServer(svc)

	rr := serve(t, s, http.MethodGet, "/webhook", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Webhook is active", rr.Body.String())

	payload := `{"event":"message","data":{"message":{"body":"2","from":"77011234567@c.us","id":"wa-1","type":"chat"}}}`
	rr = serve(t, s, http.MethodPost, "/webhook", "application/json", payload)
	require.Equal(t, http.StatusOK, rr.Code)

	evt := nextEvent(t, svc.Events())
	assert.Equal(t, "77011234567", evt.UserID)
	assert.Equal(t, "2", evt.Text)
	assert.Equal(t, "wa-1", evt.MessageID)
}

func TestTwilioRoutes(t *testing.T) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	s := NewServer(svc, WithTransportName(TransportTwilio))

	// /webhook only acknowledges requests for transports without a waApi inbox.
	rr := serve(t, s, http.MethodPost, "/webhook", "application/json", `{}`)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "ignored webhook")
	testutil.AssertJSONStatus(t, rr, "ignored")

	form := url.Values{"From": {"whatsapp:+77019998877"}, "Body": {"1"}, "MessageSid": {"SM42"}}
	rr = serve(t, s, http.MethodPost, "/twilio/webhook", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusOK, rr.Code)

	evt := nextEvent(t, svc.Events())
	assert.Equal(t, "77019998877", evt.UserID)
	assert.Equal(t, "SM42", evt.MessageID)
}

func TestNoTwilioRouteForOtherTransports(t *testing.T) {
	s := NewServer(messaging.NewLogService())
	rr := serve(t, s, http.MethodPost, "/twilio/webhook", "application/x-www-form-urlencoded", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunHandlesWebhookAndArchives(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "leads.txt")
	svc := messaging.NewLogService()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Modules{
			Transport:      TransportLog,
			MessageService: svc,
			ArchiveDSN:     archivePath,
			Workers:        2,
			API:            []Option{WithAddr("127.0.0.1:0")},
		})
	}()

	deliver := func(id, text string) {
		rr := testutil.Deliver(t, svc.WebhookHandler, testutil.WaAPIMessage(t, "77015550000@c.us", id, text))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	deliver("m1", "hello")
	require.Eventually(t, func() bool { return svc.Sent() >= 1 }, 2*time.Second, 10*time.Millisecond)

	// A redelivery of the same message produces no further reply.
	before := svc.Sent()
	deliver("m1", "hello")
	deliver("m2", "1")
	require.Eventually(t, func() bool { return svc.Sent() > before }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	// Nothing was completed, so the archive holds no records.
	data, err := os.ReadFile(archivePath)
	if err == nil {
		assert.NotContains(t, string(data), "НОВАЯ ЗАЯВКА")
	}
}

func TestRunRejectsUnknownTransport(t *testing.T) {
	err := Run(context.Background(), Modules{Transport: "pigeon", ArchiveDSN: filepath.Join(t.TempDir(), "a.txt")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pigeon")
}

func TestNewSessionStoreBackends(t *testing.T) {
	mem, closeMem, err := newSessionStore(Modules{SessionBackend: "memory"})
	require.NoError(t, err)
	defer closeMem()
	_, isCache := mem.(*store.CacheSessionStore)
	assert.False(t, isCache)

	cached, closeCache, err := newSessionStore(Modules{SessionBackend: "bigcache", Store: []store.Option{store.WithSessionTTL(60)}})
	require.NoError(t, err)
	defer closeCache()
	_, isCache = cached.(*store.CacheSessionStore)
	assert.True(t, isCache)

	s, err := cached.GetOrCreate("77010000002")
	require.NoError(t, err)
	assert.Equal(t, models.StateInitial, s.State)
}
