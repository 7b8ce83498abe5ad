// Package memory defines the canonical persisted memory unit shared by the
// store, the retrieval engine, and the queue drain processor.
package memory

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is the canonical unit of memory. A Record with an existing ID is
// treated as an update: content and embedding are replaced, tags and category
// are unioned at the caller's discretion.
type Record struct {
	ID        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	SessionID string    `json:"originSession,omitempty"`
	Prompt    string    `json:"promptText"`
	Result    string    `json:"resultText,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Category  string    `json:"category,omitempty"`
	Embedding []float32 `json:"-"`
}

// EmbeddingText returns the text used for embedding generation.
func (r *Record) EmbeddingText() string {
	if r.Result == "" {
		return r.Prompt
	}
	return r.Prompt + "\n" + r.Result
}

// Content returns the full searchable text of the record.
func (r *Record) Content() string {
	return r.EmbeddingText()
}

// MergeTags unions the given tags into the record's tag set, preserving a
// stable sorted order.
func (r *Record) MergeTags(tags []string) {
	if len(tags) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(r.Tags)+len(tags))
	for _, t := range r.Tags {
		seen[t] = struct{}{}
	}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		seen[t] = struct{}{}
	}
	merged := make([]string, 0, len(seen))
	for t := range seen {
		merged = append(merged, t)
	}
	sort.Strings(merged)
	r.Tags = merged
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID generates a new unique record ID. IDs are lexicographically sortable
// by creation time.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
