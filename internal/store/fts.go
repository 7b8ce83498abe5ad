package store

import (
	"context"
	"database/sql"
	"strings"

	engerr "github.com/engram-dev/engram/internal/errors"
)

// ftsTextIndex backs TextIndex with an FTS5 virtual table living inside the
// record database. Ranking uses the built-in bm25() function.
type ftsTextIndex struct {
	db *sql.DB
}

var _ TextIndex = (*ftsTextIndex)(nil)

func newFTSTextIndex(db *sql.DB) (*ftsTextIndex, error) {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_records USING fts5(
		record_id UNINDEXED,
		content,
		tokenize = 'unicode61'
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreInit, "cannot create full-text table", err)
	}
	return &ftsTextIndex{db: db}, nil
}

func (f *ftsTextIndex) Index(ctx context.Context, id, content string) error {
	// Delete-then-insert keeps the virtual table consistent on re-save.
	if _, err := f.db.ExecContext(ctx,
		`DELETE FROM fts_records WHERE record_id = ?`, id); err != nil {
		return engerr.New(engerr.ErrCodeStoreSave, "cannot clear stale text entry", err).
			WithDetail("record_id", id)
	}
	if _, err := f.db.ExecContext(ctx,
		`INSERT INTO fts_records (record_id, content) VALUES (?, ?)`, id, content); err != nil {
		return engerr.New(engerr.ErrCodeStoreSave, "cannot index record text", err).
			WithDetail("record_id", id)
	}
	return nil
}

func (f *ftsTextIndex) Delete(ctx context.Context, id string) error {
	if _, err := f.db.ExecContext(ctx,
		`DELETE FROM fts_records WHERE record_id = ?`, id); err != nil {
		return engerr.New(engerr.ErrCodeStoreDelete, "cannot delete text entry", err).
			WithDetail("record_id", id)
	}
	return nil
}

func (f *ftsTextIndex) Search(ctx context.Context, query string, limit int) ([]string, error) {
	match := sanitizeFTSQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := f.db.QueryContext(ctx, `
		SELECT record_id FROM fts_records
		WHERE fts_records MATCH ?
		ORDER BY bm25(fts_records)
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "full-text search failed", err).
			WithDetail("query", query)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, engerr.New(engerr.ErrCodeStoreQuery, "cannot scan search result", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, engerr.New(engerr.ErrCodeStoreQuery, "search iteration failed", err)
	}
	return ids, nil
}

// Close is a no-op; the virtual table shares the store's connection.
func (f *ftsTextIndex) Close() error { return nil }

// sanitizeFTSQuery strips FTS5 operator syntax from user input and joins the
// remaining terms with OR so any term can match.
func sanitizeFTSQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		switch r {
		case '"', '\'', '(', ')', '*', ':', '^', '-', '+':
			return true
		}
		return r == ' ' || r == '\t' || r == '\n'
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
