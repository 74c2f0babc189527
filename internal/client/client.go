// Package client provides an HTTP client for the cart twin's /admin/*
// endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// AdminClient talks to twin /admin/* endpoints.
type AdminClient struct {
	base string
	http *http.Client
}

// New creates an AdminClient for the twin at baseURL with a 5-second timeout.
func New(baseURL string) *AdminClient {
	return &AdminClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *AdminClient) do(ctx context.Context, method, path string, body []byte) (int, string, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/admin"+path, r)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(data)), nil
}

func (c *AdminClient) post(ctx context.Context, op, path string, v any) (string, error) {
	var body []byte
	if v != nil {
		var err error
		if body, err = json.Marshal(v); err != nil {
			return "", fmt.Errorf("encoding %s request: %w", op, err)
		}
	}
	status, resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%s returned status %d: %s", op, status, resp)
	}
	return resp, nil
}

// Health checks GET /admin/health. Returns (ok, response body or error message).
func (c *AdminClient) Health(ctx context.Context) (bool, string) {
	status, body, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false, err.Error()
	}
	if status == http.StatusOK {
		return true, body
	}
	return false, fmt.Sprintf("status %d: %s", status, body)
}

// Reset calls POST /admin/reset: carts are dropped and the catalog and
// simulated clock restored.
func (c *AdminClient) Reset(ctx context.Context) (string, error) {
	return c.post(ctx, "reset", "/reset", nil)
}

// Seed POSTs the contents of a JSON file to POST /admin/state.
func (c *AdminClient) Seed(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("reading seed file: %w", err)
	}
	status, body, err := c.do(ctx, http.MethodPost, "/state", data)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("seed failed (status %d): %s", status, body)
	}
	return body, nil
}

// AdvanceTime moves the twin's simulated clock forward, e.g. past the cart
// cookie lifetime.
func (c *AdminClient) AdvanceTime(ctx context.Context, d time.Duration) (string, error) {
	return c.post(ctx, "advance time", "/time/advance", map[string]string{"duration": d.String()})
}

// InjectFault makes requests to path fail with status at the given rate.
func (c *AdminClient) InjectFault(ctx context.Context, path string, status int, rate float64) (string, error) {
	return c.post(ctx, "inject fault", "/fault/"+strings.TrimPrefix(path, "/"),
		map[string]any{"status_code": status, "rate": rate})
}

// RemoveFault clears the fault on path.
func (c *AdminClient) RemoveFault(ctx context.Context, path string) (string, error) {
	status, body, err := c.do(ctx, http.MethodDelete, "/fault/"+strings.TrimPrefix(path, "/"), nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("remove fault returned status %d: %s", status, body)
	}
	return body, nil
}

// FlushWebhooks delivers the queued carts/* webhooks.
func (c *AdminClient) FlushWebhooks(ctx context.Context) (string, error) {
	return c.post(ctx, "flush webhooks", "/webhooks/flush", nil)
}
