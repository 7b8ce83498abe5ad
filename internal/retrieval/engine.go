// Package retrieval unifies the remote vector backend with the local lexical
// engine behind one query surface. Remote failures downgrade to the local
// path; the caller always gets an answer.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/engram-dev/engram/internal/embed"
	engerr "github.com/engram-dev/engram/internal/errors"
	"github.com/engram-dev/engram/internal/lexical"
	"github.com/engram-dev/engram/internal/memory"
	"github.com/engram-dev/engram/internal/store"
	"github.com/engram-dev/engram/internal/vector"
)

// Defaults for the caller-facing search surface.
const (
	DefaultSearchLimit     = 10
	DefaultScoreThreshold  = 0.1
	DefaultCollection      = "engram_records"
	DefaultBreakerName     = "vector-backend"
	DefaultBreakerCooldown = 30 * time.Second

	hydrationBatchLimit    = 10000
	overlapCandidateFanout = 4
)

// Config tunes the engine. Zero values fall back to the defaults above.
type Config struct {
	// SearchLimit is the default result cap when the caller passes limit <= 0.
	SearchLimit int
	// ScoreThreshold is the default minimum score when the caller passes
	// threshold <= 0.
	ScoreThreshold float64
	// Collection is the remote vector collection name.
	Collection string
	// InitRetry governs the retried remote initialization at startup.
	InitRetry engerr.RetryConfig
}

// SearchResult is the caller-facing answer to a query.
type SearchResult struct {
	Records []*memory.Record
	// Confidence is the top result's score, or 0 when there are no results.
	Confidence float64
}

// Stats summarizes the engine's current state.
type Stats struct {
	TotalRecords       int  `json:"totalRecords"`
	TotalTerms         int  `json:"totalTerms"`
	UsingRemoteBackend bool `json:"usingRemoteBackend"`
}

// Engine routes queries to the remote vector backend when it is healthy and
// to the local lexical engine otherwise. All collaborators are injected; the
// engine owns none of their lifecycles except the breaker it was given.
type Engine struct {
	store    store.Store
	lexical  *lexical.Engine
	embedder embed.Embedder
	remote   *vector.Client
	breaker  *engerr.CircuitBreaker
	cfg      Config

	tokenizer *lexical.Tokenizer

	// remoteReady is set once by Init. A failed remote initialization means
	// local-only for the rest of the process lifetime.
	remoteReady atomic.Bool
}

// NewEngine wires an engine from its collaborators. remote may be nil when no
// vector backend is configured. Call Init before serving queries.
func NewEngine(s store.Store, lex *lexical.Engine, embedder embed.Embedder, remote *vector.Client, breaker *engerr.CircuitBreaker, cfg Config) *Engine {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = DefaultScoreThreshold
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.InitRetry.MaxAttempts == 0 {
		cfg.InitRetry = engerr.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.2,
		}
	}
	if breaker == nil {
		breaker = engerr.NewCircuitBreaker(DefaultBreakerName,
			engerr.WithCooldown(DefaultBreakerCooldown))
	}

	return &Engine{
		store:     s,
		lexical:   lex,
		embedder:  embedder,
		remote:    remote,
		breaker:   breaker,
		cfg:       cfg,
		tokenizer: lexical.NewTokenizer(nil),
	}
}

// Init hydrates the lexical index from the store and attempts remote backend
// initialization. Remote init is retried; if it still fails the engine runs
// local-only until the process restarts. Only store access errors are
// returned.
func (e *Engine) Init(ctx context.Context) error {
	records, err := e.store.AllRecords(ctx, hydrationBatchLimit)
	if err != nil {
		return err
	}
	for _, rec := range records {
		e.lexical.Index(lexical.Document{
			ID:        rec.ID,
			Content:   rec.Content(),
			Timestamp: rec.Timestamp,
		})
	}
	slog.Info("lexical index hydrated", slog.Int("records", len(records)))

	if e.remote == nil {
		return nil
	}

	err = engerr.Retry(ctx, e.cfg.InitRetry, func() error {
		return e.remote.EnsureCollection(ctx, e.cfg.Collection, e.embedder.Dimensions())
	})
	if err != nil {
		slog.Warn("remote vector backend unavailable, running local-only",
			slog.String("collection", e.cfg.Collection),
			slog.String("error", err.Error()))
		return nil
	}

	e.remoteReady.Store(true)
	slog.Info("remote vector backend ready",
		slog.String("collection", e.cfg.Collection))
	return nil
}

// usingRemote reports whether the remote path is configured and initialized.
func (e *Engine) usingRemote() bool {
	return e.remote != nil && e.remoteReady.Load()
}

// IndexRecord embeds and persists a record, indexes it locally, and upserts
// the vector remotely on a best-effort basis. It returns false only when
// local persistence fails; a remote upsert failure is logged and absorbed.
func (e *Engine) IndexRecord(ctx context.Context, rec *memory.Record) bool {
	if rec == nil || rec.Prompt == "" {
		return false
	}
	if rec.ID == "" {
		rec.ID = memory.NewID()
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}

	embedding, err := e.embedder.Embed(ctx, rec.EmbeddingText())
	if err != nil {
		slog.Warn("embedding failed, saving record without vector",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()))
	} else {
		rec.Embedding = embedding
	}

	if err := e.store.SaveRecord(ctx, rec); err != nil {
		slog.Error("record persistence failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()))
		return false
	}

	e.lexical.Index(lexical.Document{
		ID:        rec.ID,
		Content:   rec.Content(),
		Timestamp: rec.Timestamp,
	})

	if e.usingRemote() && len(rec.Embedding) > 0 {
		err := e.breaker.Execute(func() error {
			return e.remote.Upsert(ctx, e.cfg.Collection, []vector.Point{{
				ID:      rec.ID,
				Vector:  rec.Embedding,
				Payload: map[string]string{"id": rec.ID},
			}})
		})
		if err != nil {
			slog.Warn("remote vector upsert failed",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()))
		}
	}

	return true
}

// Search answers a query. The remote vector path is used when configured and
// admitted by the circuit breaker; any remote failure falls back to the local
// lexical path within the same call.
func (e *Engine) Search(ctx context.Context, query string, limit int, threshold float64) (*SearchResult, error) {
	if limit <= 0 {
		limit = e.cfg.SearchLimit
	}
	if threshold <= 0 {
		threshold = e.cfg.ScoreThreshold
	}

	if e.usingRemote() {
		result, err := engerr.ExecuteWithFallback(e.breaker,
			func() (*SearchResult, error) {
				return e.remoteSearch(ctx, query, limit, threshold)
			},
			func() (*SearchResult, error) {
				return e.localSearch(ctx, query, limit, threshold)
			})
		return result, err
	}

	return e.localSearch(ctx, query, limit, threshold)
}

// remoteSearch embeds the query and runs a cosine similarity search against
// the vector backend, mapping hits back to stored records.
func (e *Engine) remoteSearch(ctx context.Context, query string, limit int, threshold float64) (*SearchResult, error) {
	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		// An embedding failure must trip the fallback, not surface.
		return nil, engerr.New(engerr.ErrCodeRemoteSearch, "query embedding failed", err)
	}

	hits, err := e.remote.Search(ctx, e.cfg.Collection, queryVec, limit, threshold)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Records: make([]*memory.Record, 0, len(hits))}
	for _, hit := range hits {
		rec, err := e.store.GetRecord(ctx, hit.ID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue // remote index ahead of local store
		}
		result.Records = append(result.Records, rec)
		if hit.Score > result.Confidence {
			result.Confidence = hit.Score
		}
		if len(result.Records) == limit {
			break
		}
	}
	return result, nil
}

// localSearch ranks with the lexical TF-IDF engine. When the lexical index
// has no hits for the query, it rescores full-text candidates from the store
// by token overlap so a cold index can still answer.
func (e *Engine) localSearch(ctx context.Context, query string, limit int, threshold float64) (*SearchResult, error) {
	hits := e.lexical.Search(query, limit, threshold)
	if len(hits) > 0 {
		result := &SearchResult{
			Records:    make([]*memory.Record, 0, len(hits)),
			Confidence: hits[0].Score,
		}
		for _, hit := range hits {
			rec, err := e.store.GetRecord(ctx, hit.ID)
			if err != nil {
				return nil, err
			}
			if rec == nil {
				continue
			}
			result.Records = append(result.Records, rec)
		}
		return result, nil
	}

	return e.overlapSearch(ctx, query, limit, threshold)
}

// overlapSearch scores store full-text candidates by Jaccard token overlap
// between the query and each candidate's prompt text.
func (e *Engine) overlapSearch(ctx context.Context, query string, limit int, threshold float64) (*SearchResult, error) {
	queryTokens := tokenSet(e.tokenizer.Tokenize(query))
	if len(queryTokens) == 0 {
		return &SearchResult{}, nil
	}

	candidates, err := e.store.SearchRecordsByText(ctx, query, limit*overlapCandidateFanout)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec   *memory.Record
		score float64
		order int
	}
	matches := make([]scored, 0, len(candidates))
	for i, rec := range candidates {
		score := jaccard(queryTokens, tokenSet(e.tokenizer.Tokenize(rec.Prompt)))
		if score < threshold {
			continue
		}
		matches = append(matches, scored{rec: rec, score: score, order: i})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].order < matches[j].order
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	result := &SearchResult{Records: make([]*memory.Record, 0, len(matches))}
	for _, m := range matches {
		result.Records = append(result.Records, m.rec)
	}
	if len(matches) > 0 {
		result.Confidence = matches[0].score
	}
	return result, nil
}

// FindSimilar returns records similar to an already indexed record, the
// record itself excluded.
func (e *Engine) FindSimilar(ctx context.Context, id string, limit int) ([]*memory.Record, error) {
	if limit <= 0 {
		limit = e.cfg.SearchLimit
	}

	hits := e.lexical.FindSimilar(id, limit)
	records := make([]*memory.Record, 0, len(hits))
	for _, hit := range hits {
		rec, err := e.store.GetRecord(ctx, hit.ID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteRecord removes a record from the store, the lexical index, and (best
// effort) the remote backend. It returns false only when the store delete
// fails.
func (e *Engine) DeleteRecord(ctx context.Context, id string) bool {
	if err := e.store.DeleteRecord(ctx, id); err != nil {
		slog.Error("record delete failed",
			slog.String("record_id", id),
			slog.String("error", err.Error()))
		return false
	}

	e.lexical.Remove(id)

	if e.usingRemote() {
		err := e.breaker.Execute(func() error {
			return e.remote.Delete(ctx, e.cfg.Collection, []string{id})
		})
		if err != nil {
			slog.Warn("remote vector delete failed",
				slog.String("record_id", id),
				slog.String("error", err.Error()))
		}
	}

	return true
}

// Stats reports record and term counts plus the active backend.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	storeStats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	lexStats := e.lexical.Stats()

	return &Stats{
		TotalRecords:       storeStats.Records,
		TotalTerms:         lexStats.Terms,
		UsingRemoteBackend: e.usingRemote(),
	}, nil
}

// tokenSet converts a token slice into a set.
func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b|.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
