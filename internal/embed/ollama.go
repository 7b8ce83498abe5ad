package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	engerr "github.com/engram-dev/engram/internal/errors"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string
	// Model is the embedding model name (default: nomic-embed-text).
	Model string
	// Dimensions is the expected embedding dimension; 0 means detect from
	// the first response.
	Dimensions int
	// Timeout bounds a single request (default: DefaultRequestTimeout).
	Timeout time.Duration
}

// OllamaEmbedder generates embeddings via Ollama's HTTP API.
type OllamaEmbedder struct {
	client *http.Client
	config OllamaConfig

	mu   sync.Mutex
	dims int
}

// Verify interface implementation at compile time
var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. It does not contact the
// server; use Available to probe reachability.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	return &OllamaEmbedder{
		// Per-request deadlines come from context so a stalled server cannot
		// hold a call past cfg.Timeout.
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:    4,
			IdleConnTimeout: 10 * time.Second,
		}},
		config: cfg,
		dims:   cfg.Dimensions,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, engerr.Wrap(engerr.ErrCodeEmbeddingFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, engerr.Wrap(engerr.ErrCodeEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeEmbeddingFailed, "ollama request failed", err).
			WithDetail("host", e.config.Host).
			WithDetail("model", e.config.Model)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, engerr.New(engerr.ErrCodeEmbeddingFailed,
			fmt.Sprintf("ollama returned status %d", resp.StatusCode), nil).
			WithDetail("body", string(data))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, engerr.Wrap(engerr.ErrCodeEmbeddingFailed, err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, engerr.New(engerr.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)), nil)
	}

	for _, vec := range result.Embeddings {
		if err := e.checkDimensions(len(vec)); err != nil {
			return nil, err
		}
	}

	return result.Embeddings, nil
}

// checkDimensions enforces dimensional consistency across all embeddings
// produced under one configuration.
func (e *OllamaEmbedder) checkDimensions(got int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dims == 0 {
		e.dims = got
		return nil
	}
	if got != e.dims {
		return engerr.New(engerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", e.dims, got), nil).
			WithDetail("model", e.config.Model)
	}
	return nil
}

// Dimensions returns the embedding dimension (0 until first detection when
// not configured).
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string { return "ollama/" + e.config.Model }

// Available probes the Ollama server.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	if t, ok := e.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
