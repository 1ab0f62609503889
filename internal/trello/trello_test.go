package trello

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSubmitCreatesCard(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/1/cards" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		gotQuery = map[string]string{
			"key": q.Get("key"), "token": q.Get("token"), "idList": q.Get("idList"),
			"name": q.Get("name"), "desc": q.Get("desc"), "pos": q.Get("pos"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"abc123","name":"x"}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("k"), WithToken("t"), WithListID("L"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	receipt, err := c.Submit(context.Background(), "Клиент: Регистрация гарантии", "Телефон: 1\nГород: Almaty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !receipt.Accepted || receipt.ID != "abc123" {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	want := map[string]string{
		"key": "k", "token": "t", "idList": "L",
		"name": "Клиент: Регистрация гарантии", "desc": "Телефон: 1\nГород: Almaty", "pos": "top",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestSubmitNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("k"), WithToken("secret-token"), WithListID("L"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = c.Submit(context.Background(), "t", "d")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("unexpected code %d", httpErr.Code)
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Error("error message leaks the API token")
	}
}

func TestSubmitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("k"), WithToken("t"), WithListID("L"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Submit(ctx, "t", "d"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TRELLO_API_KEY", "")
	t.Setenv("TRELLO_API_TOKEN", "")
	t.Setenv("TRELLO_LIST_ID", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAPIKey("k"), WithToken("t")); err == nil {
		t.Error("expected error without list id")
	}
}
