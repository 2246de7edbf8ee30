// Package client provides a thin Go SDK for operators talking to a
// guidnet node from the command line — status, join, and broadcast. It
// is not used by the overlay's own internal peer-to-peer calls (that is
// internal/peerclient); this one is for cmd/nodectl and integration
// tests driving a node from the outside.
//
// Big idea:
//
// Instead of writing raw HTTP requests everywhere, wrap them inside a
// clean Go API, hiding HTTP details, JSON encoding/decoding, and error
// handling behind a small set of methods.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"guidnet/internal/guid"
	"guidnet/internal/message"
)

// Client talks to one node's HTTP API over the given base URL, e.g.
// "http://localhost:8080".
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client. timeout protects every call from hanging
// forever; zero selects a sane default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StatusResponse is the node's own self-report — currently just
// liveness, returned as an empty object by the API.
type StatusResponse struct{}

// Status calls GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil)
	if err != nil {
		return StatusResponse{}, err
	}
	var resp StatusResponse
	return resp, json.Unmarshal(body, &resp)
}

// JoinResponse is the identity handed back by a successful join.
type JoinResponse struct {
	Address string    `json:"address"`
	GUID    guid.GUID `json:"guid"`
}

// Join calls PUT /api/v1/network/join. proposedGUID may be nil.
func (c *Client) Join(ctx context.Context, proposedGUID *guid.GUID) (JoinResponse, error) {
	body, err := c.do(ctx, http.MethodPut, "/api/v1/network/join", map[string]any{"guid": proposedGUID})
	if err != nil {
		return JoinResponse{}, err
	}
	var resp JoinResponse
	return resp, json.Unmarshal(body, &resp)
}

// NodeAddress calls GET /api/v1/nodes/{guid}.
func (c *Client) NodeAddress(ctx context.Context, g guid.GUID) (string, bool, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/nodes/%d", uint64(g)), nil)
	if err != nil {
		return "", false, err
	}
	var addr *string
	if err := json.Unmarshal(body, &addr); err != nil {
		return "", false, err
	}
	if addr == nil {
		return "", false, nil
	}
	return *addr, true, nil
}

// Broadcast calls PUT /api/v1/broadcast with a fresh message originated
// by originator, and reports whether the node accepted it for fan-out.
func (c *Client) Broadcast(ctx context.Context, originator guid.Node, ttl int, data map[string]any) (bool, error) {
	m := message.Message{Originator: originator, TTL: ttl, Data: data}
	body, err := c.do(ctx, http.MethodPut, "/api/v1/broadcast", m)
	if err != nil {
		return false, err
	}
	var forwarded bool
	return forwarded, json.Unmarshal(body, &forwarded)
}

// ─── Errors ───────────────────────────────────────────────────────────────────

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = string(body)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return body, nil
}
