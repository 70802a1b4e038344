package ctlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/plexsphere/bondd/internal/link"
	"github.com/plexsphere/bondd/internal/metrics"
	"github.com/plexsphere/bondd/internal/recommend"
)

// Client talks to a running agent over its control socket.
type Client struct {
	socketPath string
	http       *http.Client
}

// NewClient returns a Client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Close releases idle connections to the agent.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// APIError is a non-2xx response from the agent.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ctlapi: %d: %s", e.Status, e.Message)
}

// Status returns the agent status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

// Links returns the connected links.
func (c *Client) Links(ctx context.Context) ([]link.Link, error) {
	var out []link.Link
	err := c.do(ctx, http.MethodGet, "/v1/links", nil, &out)
	return out, err
}

// Scan returns the links available to the active method.
func (c *Client) Scan(ctx context.Context) ([]link.Link, error) {
	var out []link.Link
	err := c.do(ctx, http.MethodGet, "/v1/scan", nil, &out)
	return out, err
}

// Connect asks the agent to connect ids, or everything scanned when empty.
func (c *Client) Connect(ctx context.Context, ids []string) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodPost, "/v1/connect", ConnectRequest{Links: ids}, &out)
	return out, err
}

// Disconnect tears down all links.
func (c *Client) Disconnect(ctx context.Context) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodPost, "/v1/disconnect", struct{}{}, &out)
	return out, err
}

// SwitchMethod switches the bonding method.
func (c *Client) SwitchMethod(ctx context.Context, m link.Method) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodPut, "/v1/method", MethodRequest{Method: string(m)}, &out)
	return out, err
}

// SetStrategy changes the allocation strategy.
func (c *Client) SetStrategy(ctx context.Context, s link.Strategy) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodPut, "/v1/strategy", StrategyRequest{Strategy: string(s)}, &out)
	return out, err
}

// Recommendations returns link combination suggestions.
func (c *Client) Recommendations(ctx context.Context) ([]recommend.Recommendation, error) {
	var out []recommend.Recommendation
	err := c.do(ctx, http.MethodGet, "/v1/recommendations", nil, &out)
	return out, err
}

// Metrics returns up to n recent points, optionally filtered by group.
func (c *Client) Metrics(ctx context.Context, group string, n int) ([]metrics.Point, error) {
	q := url.Values{}
	if group != "" {
		q.Set("group", group)
	}
	if n > 0 {
		q.Set("n", strconv.Itoa(n))
	}
	path := "/v1/metrics"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []metrics.Point
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ctlapi: marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, rd)
	if err != nil {
		return fmt.Errorf("ctlapi: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent not running or socket unavailable at %s: %w", c.socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ctlapi: decode response: %w", err)
	}
	return nil
}
