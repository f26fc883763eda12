// Package directions wraps a Google-Maps-style directions API: given an
// origin, a destination, and optionally a departure or arrival time, it
// returns a travel duration (and, when the upstream supports it, a
// traffic-aware duration). It backs both the directions tool and the
// departure-check skill.
package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/httpkit"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/directions/json"

// Client queries a directions API for route durations.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string // overridable for testing against a fake server
}

// New creates a directions Client. An empty APIKey leaves the client
// unconfigured; callers should check Configured before use.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
		logger:  logger.With("component", "directions"),
	}
}

// Configured reports whether an API key has been set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Route is the duration information for one origin/destination pair.
type Route struct {
	// Duration is the nominal (no-traffic) travel time.
	Duration time.Duration
	// DurationInTraffic is the traffic-aware travel time, when the
	// upstream provides it. Zero when unavailable.
	DurationInTraffic time.Duration
}

// BestDuration returns DurationInTraffic when present, else Duration.
func (r Route) BestDuration() time.Duration {
	if r.DurationInTraffic > 0 {
		return r.DurationInTraffic
	}
	return r.Duration
}

type apiResponse struct {
	Status string `json:"status"`
	Routes []struct {
		Legs []struct {
			Duration struct {
				Value int `json:"value"` // seconds
			} `json:"duration"`
			DurationInTraffic struct {
				Value int `json:"value"` // seconds
			} `json:"duration_in_traffic"`
		} `json:"legs"`
	} `json:"routes"`
	ErrorMessage string `json:"error_message"`
}

// Get queries directions between origin and destination. At most one
// of departureTime or arrivalTime should be non-zero; both zero means
// "now".
func (c *Client) Get(ctx context.Context, origin, destination string, departureTime, arrivalTime time.Time) (*Route, error) {
	if !c.Configured() {
		return nil, coreerr.New(coreerr.Validation, "directions client is not configured")
	}

	q := url.Values{}
	q.Set("origin", origin)
	q.Set("destination", destination)
	q.Set("key", c.apiKey)
	if !departureTime.IsZero() {
		q.Set("departure_time", fmt.Sprintf("%d", departureTime.Unix()))
	}
	if !arrivalTime.IsZero() {
		q.Set("arrival_time", fmt.Sprintf("%d", arrivalTime.Unix()))
	}

	reqURL := c.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "build directions request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Upstream, err, "request directions")
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 2048)
		return nil, coreerr.New(coreerr.Upstream, "directions API returned %d: %s", resp.StatusCode, body)
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, coreerr.Wrap(coreerr.Upstream, err, "decode directions response")
	}
	if parsed.Status != "OK" {
		msg := parsed.ErrorMessage
		if msg == "" {
			msg = parsed.Status
		}
		return nil, coreerr.New(coreerr.Upstream, "directions API status %s", msg)
	}
	if len(parsed.Routes) == 0 || len(parsed.Routes[0].Legs) == 0 {
		return nil, coreerr.New(coreerr.Upstream, "directions API returned no routes")
	}

	leg := parsed.Routes[0].Legs[0]
	route := &Route{
		Duration: time.Duration(leg.Duration.Value) * time.Second,
	}
	if leg.DurationInTraffic.Value > 0 {
		route.DurationInTraffic = time.Duration(leg.DurationInTraffic.Value) * time.Second
	}
	return route, nil
}
