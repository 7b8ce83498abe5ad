package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"
)

// StaticEmbedder generates embeddings with a hash-based approach: no network,
// no model download, fully deterministic. It trades semantic quality for
// availability and is the fallback when no remote provider is configured.
type StaticEmbedder struct{}

// Token and trigram contributions to the vector.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var wordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Verify interface implementation at compile time
var _ Embedder = (*StaticEmbedder)(nil)

// Embed generates a deterministic embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	vector := make([]float32, StaticDimensions)

	for _, token := range wordRegex.FindAllString(strings.ToLower(trimmed), -1) {
		vector[hashToIndex(token)] += tokenWeight
	}

	normalized := letterDigitOnly(trimmed)
	for i := 0; i+ngramSize <= len(normalized); i++ {
		vector[hashToIndex(normalized[i:i+ngramSize])] += ngramWeight
	}

	return normalizeVector(vector), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return "static" }

// Available always reports true: the static embedder has no dependencies.
func (e *StaticEmbedder) Available(_ context.Context) bool { return true }

// Close releases resources (none for the static embedder).
func (e *StaticEmbedder) Close() error { return nil }

// letterDigitOnly lowercases and strips everything but letters and digits,
// preparing text for trigram extraction.
func letterDigitOnly(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// hashToIndex maps a string to a vector index via FNV-64.
func hashToIndex(s string) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(StaticDimensions))
}
