package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	engerr "github.com/engram-dev/engram/internal/errors"
)

// BleveTextIndex backs TextIndex with a bleve index stored alongside the
// record database. Selected with TextBackendBleve.
type BleveTextIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ TextIndex = (*BleveTextIndex)(nil)

// isBleveCorruption reports whether an open error indicates index corruption
// rather than simple absence.
func isBleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveTextIndex opens (or creates) a bleve index at path. An empty path
// creates an in-memory index for testing. A corrupt on-disk index is cleared
// and recreated; records are reindexed on the next save.
func NewBleveTextIndex(path string) (*BleveTextIndex, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, engerr.New(engerr.ErrCodeStoreInit, "cannot create index directory", err).
				WithDetail("path", path)
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		} else if err != nil && isBleveCorruption(err) {
			slog.Warn("text index corrupted, clearing",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, engerr.New(engerr.ErrCodeStoreInit, "cannot clear corrupt text index", removeErr).
					WithDetail("path", path)
			}
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreInit, "cannot open text index", err).
			WithDetail("path", path)
	}

	return &BleveTextIndex{index: idx, path: path}, nil
}

type bleveDocument struct {
	Content string `json:"content"`
}

func (b *BleveTextIndex) Index(ctx context.Context, id, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return engerr.New(engerr.ErrCodeStoreSave, "text index is closed", nil)
	}
	if err := b.index.Index(id, bleveDocument{Content: content}); err != nil {
		return engerr.New(engerr.ErrCodeStoreSave, "cannot index record text", err).
			WithDetail("record_id", id)
	}
	return nil
}

func (b *BleveTextIndex) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return engerr.New(engerr.ErrCodeStoreDelete, "text index is closed", nil)
	}
	if err := b.index.Delete(id); err != nil {
		return engerr.New(engerr.ErrCodeStoreDelete, "cannot delete text entry", err).
			WithDetail("record_id", id)
	}
	return nil
}

func (b *BleveTextIndex) Search(ctx context.Context, query string, limit int) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "text index is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "full-text search failed", err).
			WithDetail("query", query)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (b *BleveTextIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
