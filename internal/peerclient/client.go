// Package peerclient is a typed HTTP SDK for one remote overlay node's
// API (spec §4.3). It hides request construction, JSON encoding, and
// error classification behind plain Go methods, the same shape as a
// normal client library: one method per RPC, context-scoped timeouts,
// typed request/response structs.
package peerclient

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

// Default timeouts (spec §4.3: "default 5s for RPCs, 1s for liveness").
const (
	DefaultRPCTimeout       = 5 * time.Second
	DefaultLivenessTimeout  = 1 * time.Second
)

// API is the polymorphic surface SyncEngine, BroadcastEngine, and the
// outbound dispatcher depend on, rather than *Client directly — the only
// dynamic-dispatch seam in this system (spec §9), so tests can supply a
// fake peer without spinning up real HTTP servers.
type API interface {
	Status(ctx context.Context) error
	Join(ctx context.Context, senderAddress string, proposedGUID *guid.GUID) (guid.Node, bool, error)
	NodeAddress(ctx context.Context, g guid.GUID) (string, bool, error)
	Sync(ctx context.Context, selfGUID guid.GUID, maxGUIDNode guid.Node) (guid.Node, error)
	Broadcast(ctx context.Context, m *message.Message) (bool, error)
}

// Client talks to exactly one remote node, identified by its address
// (bare host:port, as stored in NodeStore — this package prepends the
// scheme).
type Client struct {
	address    string
	httpClient *http.Client
}

// Dialer builds an API client bound to one peer address. Production code
// uses NewDialer; tests substitute a func returning fakes keyed by
// address, since API is the only seam these engines depend on.
type Dialer func(address string) API

// NewDialer returns the production Dialer, backed by real HTTP clients.
func NewDialer() Dialer {
	return func(address string) API { return New(address) }
}

// New builds a Client for the peer at address.
func New(address string) *Client {
	return &Client{
		address:    address,
		httpClient: &http.Client{},
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://%s/api/v1%s", c.address, path)
}

// Status calls GET /status. A nil return means the peer answered — this
// is the liveness signal callers use directly; any error (in particular
// ErrUnreachable) means the peer should be treated as dead for this tick.
func (c *Client) Status(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/status", nil)
	return err
}

// joinRequest/joinResponse mirror spec §6's PUT /network/join shapes.
type joinRequest struct {
	GUID *guid.GUID `json:"guid,omitempty"`
}

type joinResponse struct {
	Address string    `json:"address"`
	GUID    guid.GUID `json:"guid"`
}

// Join calls PUT /network/join on the (presumed) boot node. proposedGUID
// may be nil for a fresh join. ok is false when the peer answered with
// the empty-object response (i.e. it is not actually a boot node).
func (c *Client) Join(ctx context.Context, senderAddress string, proposedGUID *guid.GUID) (node guid.Node, ok bool, err error) {
	body, err := c.do(ctx, http.MethodPut, "/network/join", joinRequest{GUID: proposedGUID})
	if err != nil {
		return guid.Node{}, false, err
	}
	if isEmptyObject(body) {
		return guid.Node{}, false, nil
	}
	var resp joinResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return guid.Node{}, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return guid.Node{GUID: resp.GUID, Address: resp.Address}, true, nil
}

// NodeAddress calls GET /nodes/{guid}. ok is false when the peer replied
// with JSON null (no known address for that GUID).
func (c *Client) NodeAddress(ctx context.Context, g guid.GUID) (address string, ok bool, err error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/nodes/%d", uint64(g)), nil)
	if err != nil {
		return "", false, err
	}
	var addr *string
	if err := json.Unmarshal(body, &addr); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if addr == nil {
		return "", false, nil
	}
	return *addr, true, nil
}

// syncRequest/syncResponse mirror spec §6's POST /sync shapes.
type syncRequest struct {
	GUID        guid.GUID `json:"guid"`
	MaxGUIDNode nodeJSON  `json:"max_guid_node"`
}

type nodeJSON struct {
	Address string    `json:"address"`
	GUID    guid.GUID `json:"guid"`
}

// Sync calls POST /sync, reporting this node's guid and known max-GUID
// node, and returns the peer's own max-GUID node.
func (c *Client) Sync(ctx context.Context, selfGUID guid.GUID, maxGUIDNode guid.Node) (guid.Node, error) {
	req := syncRequest{
		GUID:        selfGUID,
		MaxGUIDNode: nodeJSON{Address: maxGUIDNode.Address, GUID: maxGUIDNode.GUID},
	}
	body, err := c.do(ctx, http.MethodPost, "/sync", req)
	if err != nil {
		return guid.Node{}, err
	}
	var resp nodeJSON
	if err := json.Unmarshal(body, &resp); err != nil {
		return guid.Node{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return guid.Node{GUID: resp.GUID, Address: resp.Address}, nil
}

// Broadcast calls PUT /broadcast, returning whether the peer forwarded
// the message.
func (c *Client) Broadcast(ctx context.Context, m *message.Message) (forwarded bool, err error) {
	body, err := c.do(ctx, http.MethodPut, "/broadcast", m)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(body, &ok); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return ok, nil
}

// do performs one HTTP round trip and classifies the outcome per spec
// §4.3/§7: transport/timeout errors become ErrUnreachable, non-2xx
// responses become ErrProtocol, and the raw response body is returned
// for the caller to decode (so each RPC can pick its own shape, including
// bare JSON scalars like `null` or `true`).
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrProtocol, resp.StatusCode, body)
	}
	return body, nil
}

func isEmptyObject(body []byte) bool {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return false
	}
	return len(raw) == 0
}
