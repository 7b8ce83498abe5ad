// Package vector is the HTTP client for the optional remote vector backend.
// Absence or unreachability of the backend is never a hard failure: every
// error it returns is a retryable remote-backend error, and callers downgrade
// to the local lexical engine.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	engerr "github.com/engram-dev/engram/internal/errors"
)

// DefaultRequestTimeout bounds a single backend request so a stalled backend
// cannot block the query or drain path.
const DefaultRequestTimeout = 10 * time.Second

// Config configures the vector backend client.
type Config struct {
	// URL is the backend base URL (e.g., http://localhost:6333).
	URL string
	// Timeout bounds a single request (default: DefaultRequestTimeout).
	Timeout time.Duration
}

// Point is a stored vector with its payload.
type Point struct {
	ID      string            `json:"id"`
	Vector  []float32         `json:"vector"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Hit is a single similarity search result.
type Hit struct {
	ID      string            `json:"id"`
	Score   float64           `json:"score"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Client talks to the remote vector backend over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewClient creates a vector backend client. It performs no I/O; use Healthy
// or EnsureCollection to probe reachability.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	return &Client{
		baseURL: cfg.URL,
		timeout: cfg.Timeout,
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:    4,
			IdleConnTimeout: 10 * time.Second,
		}},
	}
}

// Healthy probes the backend.
func (c *Client) Healthy(ctx context.Context) bool {
	var out struct{}
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return err == nil
}

// EnsureCollection creates the named collection with cosine distance if it
// does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension int) error {
	var existing struct{}
	if err := c.do(ctx, http.MethodGet, "/collections/"+name, nil, &existing); err == nil {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	var out struct{}
	if err := c.do(ctx, http.MethodPut, "/collections/"+name, body, &out); err != nil {
		return engerr.New(engerr.ErrCodeRemoteUnavailable, "failed to ensure collection", err).
			WithDetail("collection", name).
			WithDetail("url", c.baseURL)
	}
	return nil
}

// Upsert inserts or replaces points in the collection.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	body := map[string]any{"points": points}
	var out struct{}
	if err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points", body, &out); err != nil {
		return engerr.New(engerr.ErrCodeRemoteUpsert, "vector upsert failed", err).
			WithDetail("collection", collection).
			WithDetail("points", fmt.Sprintf("%d", len(points)))
	}
	return nil
}

// Search runs a cosine similarity search, returning hits with score at or
// above scoreThreshold, best first.
func (c *Client) Search(ctx context.Context, collection string, queryVector []float32, limit int, scoreThreshold float64) ([]Hit, error) {
	body := map[string]any{
		"vector":          queryVector,
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
	}

	var out struct {
		Result []Hit `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &out); err != nil {
		return nil, engerr.New(engerr.ErrCodeRemoteSearch, "vector search failed", err).
			WithDetail("collection", collection)
	}
	return out.Result, nil
}

// Delete removes points by ID.
func (c *Client) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	body := map[string]any{"points": ids}
	var out struct{}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete", body, &out); err != nil {
		return engerr.New(engerr.ErrCodeRemoteDelete, "vector delete failed", err).
			WithDetail("collection", collection)
	}
	return nil
}

// do issues one bounded JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	if t, ok := c.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
