package directions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
)

func TestGet_Unconfigured(t *testing.T) {
	c := New(Config{}, nil)
	_, err := c.Get(context.Background(), "A", "B", time.Time{}, time.Time{})
	if !coreerr.Is(err, coreerr.Validation) {
		t.Fatalf("Get on unconfigured client: got %v, want Validation", err)
	}
}

func TestGet_PrefersTrafficDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "OK",
			"routes": [{"legs": [{
				"duration": {"value": 1200},
				"duration_in_traffic": {"value": 1500}
			}]}]
		}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	route, err := c.Get(context.Background(), "A", "B", time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if route.BestDuration() != 1500*time.Second {
		t.Errorf("BestDuration() = %v, want 1500s", route.BestDuration())
	}
	if route.Duration != 1200*time.Second {
		t.Errorf("Duration = %v, want 1200s", route.Duration)
	}
}

func TestGet_FallsBackToNominalDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"OK","routes":[{"legs":[{"duration":{"value":600}}]}]}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	route, err := c.Get(context.Background(), "A", "B", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if route.BestDuration() != 600*time.Second {
		t.Errorf("BestDuration() = %v, want 600s", route.BestDuration())
	}
}

func TestGet_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key"}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	_, err := c.Get(context.Background(), "A", "B", time.Time{}, time.Time{})
	if !coreerr.Is(err, coreerr.Upstream) {
		t.Fatalf("Get with REQUEST_DENIED: got %v, want Upstream", err)
	}
}

func TestGet_NonOKHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	_, err := c.Get(context.Background(), "A", "B", time.Time{}, time.Time{})
	if !coreerr.Is(err, coreerr.Upstream) {
		t.Fatalf("Get with 500: got %v, want Upstream", err)
	}
}
