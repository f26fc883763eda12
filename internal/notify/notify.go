// Package notify delivers advisory push notifications to a generic
// webhook-shaped endpoint. Delivery is best-effort: failures are
// logged and swallowed, never propagated, because a notification must
// never fail the job run or agent turn that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/httpkit"
)

// Client delivers notifications to a bearer-token-authenticated
// webhook endpoint.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

// Config configures a notification Client. An empty Endpoint leaves
// the client unconfigured — every Notify call becomes a no-op.
type Config struct {
	Endpoint string
	Token    string
}

// New creates a notification Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client: httpkit.NewClient(
			httpkit.WithTimeout(10 * time.Second),
		),
		logger: logger.With("component", "notify"),
	}
}

// Configured reports whether an endpoint has been set.
func (c *Client) Configured() bool {
	return c.endpoint != ""
}

type payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Tag      string `json:"tag,omitempty"`
	ClickURL string `json:"click_url,omitempty"`
}

// Notify delivers a notification. It never returns an error — a
// no-op when unconfigured and a logged-and-swallowed failure when
// delivery fails — because notifications are advisory only.
func (c *Client) Notify(ctx context.Context, title, body, tag, clickURL string) {
	if !c.Configured() {
		return
	}

	body2, err := json.Marshal(payload{Title: title, Body: body, Tag: tag, ClickURL: clickURL})
	if err != nil {
		c.logger.Warn("marshal notification", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body2))
	if err != nil {
		c.logger.Warn("build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("send notification", "title", title, "error", err)
		return
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification endpoint returned non-2xx", "title", title, "status", resp.StatusCode)
	}
}
