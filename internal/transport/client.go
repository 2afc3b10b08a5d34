// Package transport is the HTTP execution function injected into the sync
// engine. It is the only component that knows how logical mutation verbs map
// onto the wire.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mainteno/fieldsync/internal/engine"
	"github.com/mainteno/fieldsync/internal/queue"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// Client talks to the fieldsync server's data plane.
type Client struct {
	BaseURL  string
	TenantID string
	APIKey   string
	HTTP     *http.Client
}

// New creates a transport client for one tenant.
func New(baseURL, tenantID, apiKey string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		TenantID: tenantID,
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// Execute performs one queued mutation. create/update/delete become
// POST/PUT/DELETE on the data plane. Exactly one response status (409) is
// the conflict signal and is wrapped in engine.ErrConflict; everything else
// that fails is retryable.
func (c *Client) Execute(ctx context.Context, method queue.Method, endpoint string, payload map[string]any) error {
	var verb string
	switch method {
	case queue.MethodCreate:
		verb = http.MethodPost
	case queue.MethodUpdate:
		verb = http.MethodPut
	case queue.MethodDelete:
		verb = http.MethodDelete
	default:
		return fmt.Errorf("unknown method %q", method)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, verb, c.dataURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)
	if token, ok := payload["idempotency_token"].(string); ok && token != "" {
		req.Header.Set("Idempotency-Key", token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", engine.ErrConflict, errorMessage(respBody))
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(respBody))
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorMessage(respBody))
	}
}

// Fetch reads the current server state at a logical resource. Used by the
// conflict detector; a 404 yields ErrNotFound.
func (c *Client) Fetch(ctx context.Context, endpoint string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.dataURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorMessage(respBody))
	}

	var state map[string]any
	if err := json.Unmarshal(respBody, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

// Ping reports whether the server is reachable, for the connectivity probe.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// dataURL builds the data-plane URL for a logical endpoint path.
func (c *Client) dataURL(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.BaseURL + "/v1/data/" + strings.Join(parts, "/")
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("X-Tenant-ID", c.TenantID)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func errorMessage(body []byte) string {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Code != "" {
		if er.Error.Message != "" {
			return er.Error.Code + ": " + er.Error.Message
		}
		return er.Error.Code
	}
	return strings.TrimSpace(string(body))
}
