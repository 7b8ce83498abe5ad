// Package store is the persistence layer for records: a SQLite-backed
// key-value/record store with a pluggable full-text index used for candidate
// retrieval.
package store

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/engram-dev/engram/internal/memory"
)

// TextBackend selects the full-text index implementation.
type TextBackend string

const (
	// TextBackendFTS uses SQLite FTS5 inside the record database (default).
	TextBackendFTS TextBackend = "fts"
	// TextBackendBleve uses a bleve index alongside the record database.
	TextBackendBleve TextBackend = "bleve"
)

// Stats summarizes store contents.
type Stats struct {
	Records   int
	SizeBytes int64
}

// Store persists records durably. Writes are serialized; reads may run
// concurrently.
type Store interface {
	// SaveRecord inserts or replaces a record by ID.
	SaveRecord(ctx context.Context, rec *memory.Record) error

	// GetRecord returns the record, or nil when the ID is unknown.
	GetRecord(ctx context.Context, id string) (*memory.Record, error)

	// DeleteRecord removes a record. Unknown IDs are not an error.
	DeleteRecord(ctx context.Context, id string) error

	// SearchRecordsByText returns records whose text matches the query,
	// best first.
	SearchRecordsByText(ctx context.Context, query string, limit int) ([]*memory.Record, error)

	// AllRecords returns up to limit records, newest first.
	AllRecords(ctx context.Context, limit int) ([]*memory.Record, error)

	// Stats returns record count and on-disk size.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases database and index handles.
	Close() error
}

// TextIndex ranks record IDs against a text query. Implementations keep the
// index consistent with the record table through the store's save/delete
// paths.
type TextIndex interface {
	Index(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Close() error
}

// encodeEmbedding serializes a float32 vector as a little-endian blob.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding deserializes a little-endian blob into a float32 vector.
func decodeEmbedding(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
