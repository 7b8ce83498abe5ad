package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	engerr "github.com/engram-dev/engram/internal/errors"
	"github.com/engram-dev/engram/internal/memory"
)

// Read-cache defaults. The TTL cache absorbs the hot GetRecord path during
// query mapping; it is invalidated on every save and delete.
const (
	DefaultCacheSize = 512
	DefaultCacheTTL  = 30 * time.Second
)

// Options configures the SQLite store.
type Options struct {
	// TextBackend selects the full-text index (default: TextBackendFTS).
	TextBackend TextBackend
	// CacheSize is the read-cache capacity (default: DefaultCacheSize).
	CacheSize int
	// CacheTTL is the read-cache entry lifetime (default: DefaultCacheTTL).
	CacheTTL time.Duration
}

// SQLiteStore implements Store on modernc.org/sqlite with WAL mode and a
// single-writer connection pool.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	text  TextIndex
	cache *expirable.LRU[string, memory.Record]

	saveStmt   *sql.Stmt
	getStmt    *sql.Stmt
	deleteStmt *sql.Stmt
}

// Verify interface implementation at compile time
var _ Store = (*SQLiteStore)(nil)

// validateIntegrity checks a database file before opening. Returns nil if the
// file is absent (it will be created) or passes the integrity check.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open opens (or creates) the record store at path. An empty path opens an
// in-memory store for testing. Initialization failure is fatal to the
// service and surfaces as ERR_501_STORE_INIT.
func Open(path string, opts Options) (*SQLiteStore, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.TextBackend == "" {
		opts.TextBackend = TextBackendFTS
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, engerr.New(engerr.ErrCodeStoreInit, "cannot create data directory", err).
				WithDetail("path", path)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, engerr.New(engerr.ErrCodeStoreInit, "record database failed integrity check", err).
				WithDetail("path", path)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreInit, "cannot open record database", err).
			WithDetail("path", path)
	}

	// Single writer prevents lock contention; reads share the connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, engerr.New(engerr.ErrCodeStoreInit, "failed to set pragma", err)
		}
	}

	s := &SQLiteStore{
		db:    db,
		path:  path,
		cache: expirable.NewLRU[string, memory.Record](opts.CacheSize, nil, opts.CacheTTL),
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	switch opts.TextBackend {
	case TextBackendBleve:
		blevePath := ""
		if path != "" {
			blevePath = path + ".bleve"
		}
		idx, err := NewBleveTextIndex(blevePath)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.text = idx
	default:
		idx, err := newFTSTextIndex(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.text = idx
	}

	if err := s.prepare(); err != nil {
		_ = s.Close()
		return nil, err
	}

	slog.Debug("record store opened",
		slog.String("path", path),
		slog.String("text_backend", string(opts.TextBackend)))

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id         TEXT PRIMARY KEY,
		timestamp  INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		prompt     TEXT NOT NULL,
		result     TEXT NOT NULL DEFAULT '',
		tags       TEXT NOT NULL DEFAULT '[]',
		category   TEXT NOT NULL DEFAULT '',
		embedding  BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp DESC);`

	if _, err := s.db.Exec(schema); err != nil {
		return engerr.New(engerr.ErrCodeStoreInit, "schema migration failed", err)
	}
	return nil
}

func (s *SQLiteStore) prepare() error {
	var err error
	if s.saveStmt, err = s.db.Prepare(`
		INSERT INTO records (id, timestamp, session_id, prompt, result, tags, category, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			session_id = excluded.session_id,
			prompt = excluded.prompt,
			result = excluded.result,
			tags = excluded.tags,
			category = excluded.category,
			embedding = excluded.embedding`); err != nil {
		return engerr.New(engerr.ErrCodeStoreInit, "prepare save statement", err)
	}
	if s.getStmt, err = s.db.Prepare(`
		SELECT id, timestamp, session_id, prompt, result, tags, category, embedding
		FROM records WHERE id = ?`); err != nil {
		return engerr.New(engerr.ErrCodeStoreInit, "prepare get statement", err)
	}
	if s.deleteStmt, err = s.db.Prepare(`DELETE FROM records WHERE id = ?`); err != nil {
		return engerr.New(engerr.ErrCodeStoreInit, "prepare delete statement", err)
	}
	return nil
}

// SaveRecord inserts or replaces a record by ID and updates the text index.
func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *memory.Record) error {
	if rec == nil || rec.ID == "" {
		return engerr.ValidationError("record must have an id", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return engerr.New(engerr.ErrCodeStoreSave, "store is closed", nil)
	}

	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return engerr.New(engerr.ErrCodeStoreSave, "cannot encode tags", err).
			WithDetail("record_id", rec.ID)
	}

	if _, err := s.saveStmt.ExecContext(ctx,
		rec.ID, rec.Timestamp, rec.SessionID, rec.Prompt, rec.Result,
		string(tags), rec.Category, encodeEmbedding(rec.Embedding)); err != nil {
		return engerr.New(engerr.ErrCodeStoreSave, "cannot save record", err).
			WithDetail("record_id", rec.ID)
	}

	if err := s.text.Index(ctx, rec.ID, rec.Content()); err != nil {
		return err
	}

	s.cache.Remove(rec.ID)
	return nil
}

// GetRecord returns the record, or nil when the ID is unknown.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*memory.Record, error) {
	if rec, ok := s.cache.Get(id); ok {
		copied := rec
		return &copied, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "store is closed", nil)
	}

	rec, err := scanRecord(s.getStmt.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "cannot load record", err).
			WithDetail("record_id", id)
	}

	s.cache.Add(id, *rec)
	return rec, nil
}

// DeleteRecord removes a record and its text-index entry.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return engerr.New(engerr.ErrCodeStoreDelete, "store is closed", nil)
	}

	if _, err := s.deleteStmt.ExecContext(ctx, id); err != nil {
		return engerr.New(engerr.ErrCodeStoreDelete, "cannot delete record", err).
			WithDetail("record_id", id)
	}
	if err := s.text.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.Remove(id)
	return nil
}

// SearchRecordsByText returns records matching the query, best first.
func (s *SQLiteStore) SearchRecordsByText(ctx context.Context, query string, limit int) ([]*memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "store is closed", nil)
	}

	ids, err := s.text.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	records := make([]*memory.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := scanRecord(s.getStmt.QueryRowContext(ctx, id))
		if err == sql.ErrNoRows {
			continue // index ahead of table; skip
		}
		if err != nil {
			return nil, engerr.New(engerr.ErrCodeStoreQuery, "cannot load matched record", err).
				WithDetail("record_id", id)
		}
		records = append(records, rec)
	}
	return records, nil
}

// AllRecords returns up to limit records, newest first.
func (s *SQLiteStore) AllRecords(ctx context.Context, limit int) ([]*memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "store is closed", nil)
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, session_id, prompt, result, tags, category, embedding
		FROM records ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "cannot list records", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, engerr.New(engerr.ErrCodeStoreQuery, "cannot scan record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "row iteration failed", err)
	}
	return records, nil
}

// Stats returns record count and on-disk size.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "store is closed", nil)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "cannot count records", err)
	}

	stats := &Stats{Records: count}
	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			stats.SizeBytes = info.Size()
		}
	}
	return stats, nil
}

// Close releases database and index handles.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.text != nil {
		_ = s.text.Close()
	}
	for _, stmt := range []*sql.Stmt{s.saveStmt, s.getStmt, s.deleteStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

// rowScanner abstracts sql.Row and sql.Rows for scanRecord.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*memory.Record, error) {
	var rec memory.Record
	var tags string
	var embedding []byte

	if err := row.Scan(&rec.ID, &rec.Timestamp, &rec.SessionID, &rec.Prompt,
		&rec.Result, &tags, &rec.Category, &embedding); err != nil {
		return nil, err
	}

	if tags != "" && tags != "null" {
		_ = json.Unmarshal([]byte(tags), &rec.Tags)
	}
	rec.Embedding = decodeEmbedding(embedding)
	return &rec, nil
}
