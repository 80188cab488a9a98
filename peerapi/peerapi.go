package peerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gridmesh/gridmesh/capacity"
	"github.com/gridmesh/gridmesh/util/errors"
	"github.com/gridmesh/gridmesh/workload"
)

// DefaultTimeout bounds every peer call. Peers are best-effort; a slow peer
// must not stall admission or discovery.
const DefaultTimeout = 5 * time.Second

// Cooperative is the informational membership metadata a node advertises.
// The core treats it as opaque.
type Cooperative struct {
	ID   string `json:"id,omitempty"`
	Tier string `json:"tier,omitempty"`
}

// NodeInfo is what a node says about itself, returned from GET /discovery
// and as the reply to a peer registration.
type NodeInfo struct {
	ID          string            `json:"id"`
	Address     string            `json:"address"`
	Capacity    capacity.Capacity `json:"capacity"`
	Cooperative Cooperative       `json:"cooperative,omitempty"`
}

// RegisterRequest is the body of POST /peers: the caller introducing itself.
type RegisterRequest struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// SubmitRequest is the body of POST /workloads as sent between peers.
type SubmitRequest struct {
	ID           string                `json:"id,omitempty"`
	Image        string                `json:"image,omitempty"`
	Command      []string              `json:"command,omitempty"`
	Env          []string              `json:"env,omitempty"`
	Requirements workload.Requirements `json:"requirements"`
	ConsumerID   string                `json:"consumerId,omitempty"`
}

// SubmitResponse reports the outcome of a workload submission. ForwardedTo
// is set when the receiving node passed the workload on to another peer
// instead of running it locally.
type SubmitResponse struct {
	Accepted    bool   `json:"accepted"`
	WorkloadID  string `json:"workloadId,omitempty"`
	Status      string `json:"status,omitempty"`
	ProviderID  string `json:"providerId,omitempty"`
	ForwardedTo string `json:"forwardedTo,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls other nodes over their HTTP surface. All methods wrap
// transport failures in NetworkError so callers can tell an unreachable
// peer apart from a peer that answered and said no.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Register introduces this node to the peer at addr and returns the peer's
// own info.
func (c *Client) Register(ctx context.Context, addr string, self RegisterRequest) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.post(ctx, addr, "/peers", self, &info); err != nil {
		return nil, err
	}
	if info.Address == "" {
		info.Address = addr
	}
	return &info, nil
}

// Discover fetches the peer's advertised identity and capacity.
func (c *Client) Discover(ctx context.Context, addr string) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.get(ctx, addr, "/discovery", &info); err != nil {
		return nil, err
	}
	if info.Address == "" {
		info.Address = addr
	}
	return &info, nil
}

// SubmitWorkload asks the peer at addr to run a workload. A peer that
// answers but declines yields Accepted == false and a nil error; only
// transport failures are errors.
func (c *Client) SubmitWorkload(ctx context.Context, addr string, req SubmitRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("encode workload submission: %v", err))
	}

	resp, err := c.do(ctx, http.MethodPost, addr, "/workloads", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &SubmitResponse{Accepted: false, Reason: readErrorMessage(resp.Body)}, nil
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.NewNetworkError(addr, fmt.Errorf("decode submit response: %w", err))
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, addr, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, addr, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeReply(addr, resp, out)
}

func (c *Client) post(ctx context.Context, addr, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("encode request body: %v", err))
	}
	resp, err := c.do(ctx, http.MethodPost, addr, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeReply(addr, resp, out)
}

func (c *Client) do(ctx context.Context, method, addr, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, BaseURL(addr)+path, reader)
	if err != nil {
		return nil, errors.NewNetworkError(addr, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError(addr, err)
	}
	return resp, nil
}

func decodeReply(addr string, resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		return errors.NewNetworkError(addr, fmt.Errorf("peer replied %d: %s", resp.StatusCode, readErrorMessage(resp.Body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewNetworkError(addr, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var env errorEnvelope
	if err := json.NewDecoder(r).Decode(&env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return "request rejected"
}

// BaseURL normalizes a peer address into a URL: bare host:port addresses
// get an http scheme, trailing slashes are dropped.
func BaseURL(addr string) string {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}
