// Package testutil provides helpers shared by LeadPipe's HTTP and webhook tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// WaAPIMessage builds a waApi "message" webhook body. An empty from or body is
// left out so tests can build unroutable payloads.
func WaAPIMessage(tb testing.TB, from, id, body string) []byte {
	tb.Helper()
	msg := map[string]interface{}{"type": "chat"}
	if from != "" {
		msg["from"] = from
	}
	if id != "" {
		msg["id"] = map[string]string{"_serialized": id}
	}
	if body != "" {
		msg["body"] = body
	}
	return MustMarshalJSON(tb, map[string]interface{}{
		"event": "message",
		"data":  map[string]interface{}{"message": msg},
	})
}

// NewWebhookRequest creates a JSON POST to /webhook.
func NewWebhookRequest(tb testing.TB, payload []byte) *http.Request {
	tb.Helper()
	req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		tb.Fatalf("failed to create webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Deliver serves payload through handler as a webhook POST and returns the recorder.
func Deliver(tb testing.TB, handler http.HandlerFunc, payload []byte) *httptest.ResponseRecorder {
	tb.Helper()
	rr := httptest.NewRecorder()
	handler(rr, NewWebhookRequest(tb, payload))
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(tb testing.TB, expected, actual int, context string) {
	tb.Helper()
	if actual != expected {
		tb.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONStatus decodes a JSON response and validates its status field.
func AssertJSONStatus(tb testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	tb.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		tb.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			tb.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		tb.Error("response missing or invalid 'status' field")
	}

	return response
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(tb testing.TB, v interface{}) []byte {
	tb.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(tb testing.TB, data []byte, target interface{}) {
	tb.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		tb.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
