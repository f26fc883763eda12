package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotify_Unconfigured_NoRequest(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(Config{}, nil)
	c.Notify(context.Background(), "title", "body", "", "")

	if called {
		t.Error("expected no request when client is unconfigured")
	}
}

func TestNotify_SendsBearerAuthAndPayload(t *testing.T) {
	var gotAuth string
	var gotBody payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Token: "secret-token"}, nil)
	c.Notify(context.Background(), "Job completed: daily digest", "body text", "white_check_mark", "https://example.com/threads/1")

	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want Bearer secret-token", gotAuth)
	}
	if gotBody.Title != "Job completed: daily digest" {
		t.Errorf("Title = %q", gotBody.Title)
	}
	if gotBody.Tag != "white_check_mark" {
		t.Errorf("Tag = %q", gotBody.Tag)
	}
	if gotBody.ClickURL != "https://example.com/threads/1" {
		t.Errorf("ClickURL = %q", gotBody.ClickURL)
	}
}

func TestNotify_DeliveryFailureDoesNotPanic(t *testing.T) {
	c := New(Config{Endpoint: "http://127.0.0.1:0"}, nil)
	c.Notify(context.Background(), "title", "body", "", "")
}

func TestNotify_NonSuccessStatusIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL}, nil)
	c.Notify(context.Background(), "title", "body", "", "")
}
