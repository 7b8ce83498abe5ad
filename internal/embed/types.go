// Package embed provides embedding generation for records and queries.
// A deterministic hash-based embedder is always available; an Ollama-backed
// provider can be configured for higher-quality vectors.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// StaticDimensions is the embedding dimension for the static embedder.
	StaticDimensions = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default Ollama embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultRequestTimeout bounds a single embedding request so a stalled
	// provider cannot block the query or drain path indefinitely.
	DefaultRequestTimeout = 30 * time.Second
)

// Embedder generates vector embeddings for text. All embeddings produced by
// one embedder have identical length (Dimensions).
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
