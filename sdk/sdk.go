// Package sdk is the client for the gantryd control API. It speaks
// JSON over the daemon's unix socket and is what the gantry CLI is
// built on.
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Status mirrors the daemon's /v1/status response.
type Status struct {
	Version   string `json:"version"`
	Network   string `json:"network"`
	Watching  bool   `json:"watching"`
	Passes    int    `json:"passes"`
	Promoted  int    `json:"promoted"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	LastPass  *Pass  `json:"last_pass,omitempty"`
}

// Pass is one recorded rebuild pass.
type Pass struct {
	StartedAt  time.Time `json:"started_at"`
	Trigger    string    `json:"trigger"`
	Outcome    string    `json:"outcome"`
	Routes     int       `json:"routes"`
	Skipped    int       `json:"skipped"`
	DurationMS int64     `json:"duration_ms"`
	Detail     string    `json:"detail,omitempty"`
}

// Route is one materialized routing rule.
type Route struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Port     uint16 `json:"port"`
	Path     string `json:"path,omitempty"`
	Host     string `json:"host,omitempty"`
	Upstream string `json:"upstream"`
}

// Client talks to a gantryd instance over its unix socket.
type Client struct {
	http *http.Client
}

// Dial returns a client for the daemon listening on socket. It does
// not connect eagerly; the first request does.
func Dial(socket string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var dialer net.Dialer
					return dialer.DialContext(ctx, "unix", socket)
				},
			},
			Timeout: 30 * time.Second,
		},
	}
}

// Status fetches the daemon's current state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	err := c.get(ctx, "/v1/status", &status)
	return status, err
}

// Routes fetches the currently materialized route set.
func (c *Client) Routes(ctx context.Context) ([]Route, error) {
	var resp struct {
		Routes []Route `json:"routes"`
	}
	if err := c.get(ctx, "/v1/routes", &resp); err != nil {
		return nil, err
	}
	return resp.Routes, nil
}

// Passes fetches recorded rebuild passes, newest first. limit <= 0
// uses the daemon's default.
func (c *Client) Passes(ctx context.Context, limit int) ([]Pass, error) {
	path := "/v1/passes"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Passes []Pass `json:"passes"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Passes, nil
}

// Rebuild asks the daemon to run a full rebuild pass now and returns
// its report.
func (c *Client) Rebuild(ctx context.Context) (Pass, error) {
	var resp struct {
		Pass Pass `json:"pass"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/rebuild", &resp); err != nil {
		return Pass{}, err
	}
	return resp.Pass, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	// The host is ignored; the transport always dials the socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://gantryd"+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact gantryd (is it running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("gantryd: %s", apiErr.Error)
		}
		return fmt.Errorf("gantryd: unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
