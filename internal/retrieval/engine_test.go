package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-dev/engram/internal/embed"
	engerr "github.com/engram-dev/engram/internal/errors"
	"github.com/engram-dev/engram/internal/lexical"
	"github.com/engram-dev/engram/internal/memory"
	"github.com/engram-dev/engram/internal/store"
	"github.com/engram-dev/engram/internal/vector"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open("", store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newLocalEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s := newTestStore(t)
	e := NewEngine(s, lexical.NewEngine(), embed.NewStaticEmbedder(), nil, nil, Config{})
	require.NoError(t, e.Init(context.Background()))
	return e, s
}

func record(id, prompt string) *memory.Record {
	return &memory.Record{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Prompt:    prompt,
		Category:  "transaction",
	}
}

func TestEngine_IndexAndSearchLocal(t *testing.T) {
	e, _ := newLocalEngine(t)
	ctx := context.Background()

	require.True(t, e.IndexRecord(ctx, record("rec-1", "implement jwt authentication")))
	require.True(t, e.IndexRecord(ctx, record("rec-2", "tune database indexing")))
	require.True(t, e.IndexRecord(ctx, record("rec-3", "refactor react hooks")))

	result, err := e.Search(ctx, "jwt", 10, 0.1)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "rec-1", result.Records[0].ID)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestEngine_SearchEmptyIndexReturnsZeroConfidence(t *testing.T) {
	e, _ := newLocalEngine(t)

	result, err := e.Search(context.Background(), "anything", 10, 0.1)
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Zero(t, result.Confidence)
}

func TestEngine_IndexRecordAssignsIDAndEmbedding(t *testing.T) {
	e, s := newLocalEngine(t)
	ctx := context.Background()

	rec := &memory.Record{Prompt: "generated id please"}
	require.True(t, e.IndexRecord(ctx, rec))
	require.NotEmpty(t, rec.ID)

	stored, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Embedding, embed.StaticDimensions)
}

func TestEngine_IndexRecordFalseOnPersistenceFailure(t *testing.T) {
	s, err := store.Open("", store.Options{})
	require.NoError(t, err)

	e := NewEngine(s, lexical.NewEngine(), embed.NewStaticEmbedder(), nil, nil, Config{})
	require.NoError(t, e.Init(context.Background()))
	require.NoError(t, s.Close())

	assert.False(t, e.IndexRecord(context.Background(), record("rec-1", "doomed write")))
}

func TestEngine_SameIDReindexIsIdempotent(t *testing.T) {
	e, _ := newLocalEngine(t)
	ctx := context.Background()

	require.True(t, e.IndexRecord(ctx, record("rec-1", "first version")))
	require.True(t, e.IndexRecord(ctx, record("rec-1", "second version")))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecords)

	result, err := e.Search(ctx, "second version", 10, 0.1)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "second version", result.Records[0].Prompt)
}

func TestEngine_DeleteRecord(t *testing.T) {
	e, _ := newLocalEngine(t)
	ctx := context.Background()

	require.True(t, e.IndexRecord(ctx, record("rec-1", "transient entry")))
	require.True(t, e.DeleteRecord(ctx, "rec-1"))

	result, err := e.Search(ctx, "transient", 10, 0.1)
	require.NoError(t, err)
	assert.Empty(t, result.Records)
}

func TestEngine_InitHydratesLexicalIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record("rec-1", "hydrated from persistent store")
	require.NoError(t, s.SaveRecord(ctx, rec))

	e := NewEngine(s, lexical.NewEngine(), embed.NewStaticEmbedder(), nil, nil, Config{})
	require.NoError(t, e.Init(ctx))

	result, err := e.Search(ctx, "hydrated", 10, 0.1)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "rec-1", result.Records[0].ID)
}

func TestEngine_OverlapFallbackWhenLexicalIndexCold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Records exist in the store but were never indexed lexically.
	require.NoError(t, s.SaveRecord(ctx, record("rec-1", "configure postgres replication")))
	require.NoError(t, s.SaveRecord(ctx, record("rec-2", "style css buttons")))

	e := NewEngine(s, lexical.NewEngine(), embed.NewStaticEmbedder(), nil, nil, Config{})

	result, err := e.Search(ctx, "postgres replication", 10, 0.1)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "rec-1", result.Records[0].ID)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestEngine_FindSimilarExcludesSource(t *testing.T) {
	e, _ := newLocalEngine(t)
	ctx := context.Background()

	require.True(t, e.IndexRecord(ctx, record("rec-1", "jwt token authentication middleware")))
	require.True(t, e.IndexRecord(ctx, record("rec-2", "jwt token refresh handler")))
	require.True(t, e.IndexRecord(ctx, record("rec-3", "css grid layout")))

	similar, err := e.FindSimilar(ctx, "rec-1", 10)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "rec-2", similar[0].ID)
}

func TestEngine_StatsLocalOnly(t *testing.T) {
	e, _ := newLocalEngine(t)
	ctx := context.Background()

	require.True(t, e.IndexRecord(ctx, record("rec-1", "stats entry")))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecords)
	assert.Greater(t, stats.TotalTerms, 0)
	assert.False(t, stats.UsingRemoteBackend)
}

// remoteFixture is a vector backend whose search endpoint always fails while
// collection management and upserts succeed. Search calls are counted.
type remoteFixture struct {
	searchCalls atomic.Int64
}

func (f *remoteFixture) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls.Add(1)
		http.Error(w, "backend down", http.StatusInternalServerError)
	})
	return mux
}

func TestEngine_CircuitOpensAfterConsecutiveRemoteFailures(t *testing.T) {
	fixture := &remoteFixture{}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	s := newTestStore(t)
	client := vector.NewClient(vector.Config{URL: server.URL})
	defer client.Close()

	breaker := engerr.NewCircuitBreaker("test-backend",
		engerr.WithFailureThreshold(5),
		engerr.WithCooldown(time.Hour))

	e := NewEngine(s, lexical.NewEngine(), embed.NewStaticEmbedder(), client, breaker, Config{})
	ctx := context.Background()
	require.NoError(t, e.Init(ctx))
	require.True(t, e.IndexRecord(ctx, record("rec-1", "local fallback entry")))

	// Five consecutive remote failures open the circuit; every call still
	// answers from the local index.
	for i := 0; i < 5; i++ {
		result, err := e.Search(ctx, "fallback", 10, 0.1)
		require.NoError(t, err)
		require.Len(t, result.Records, 1)
	}
	assert.Equal(t, int64(5), fixture.searchCalls.Load())
	assert.Equal(t, engerr.StateOpen, breaker.State())

	// Within the cooldown the breaker fails fast: the remote backend is not
	// contacted again.
	result, err := e.Search(ctx, "fallback", 10, 0.1)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(5), fixture.searchCalls.Load())
}

func TestEngine_RemoteInitFailureMeansLocalOnly(t *testing.T) {
	s := newTestStore(t)
	client := vector.NewClient(vector.Config{URL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})
	defer client.Close()

	e := NewEngine(s, lexical.NewEngine(), embed.NewStaticEmbedder(), client, nil, Config{
		InitRetry: engerr.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1},
	})
	ctx := context.Background()
	require.NoError(t, e.Init(ctx))

	require.True(t, e.IndexRecord(ctx, record("rec-1", "local only entry")))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.UsingRemoteBackend)

	result, err := e.Search(ctx, "local only", 10, 0.1)
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
}

func TestEngine_RemoteSearchMapsHitsToRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record("rec-1", "remote backed entry")
	require.NoError(t, s.SaveRecord(ctx, rec))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []vector.Hit{{ID: "rec-1", Score: 0.93}, {ID: "ghost", Score: 0.5}},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := vector.NewClient(vector.Config{URL: server.URL})
	defer client.Close()

	e := NewEngine(s, lexical.NewEngine(), embed.NewStaticEmbedder(), client, nil, Config{})
	require.NoError(t, e.Init(ctx))

	result, err := e.Search(ctx, "remote", 10, 0.1)
	require.NoError(t, err)
	require.Len(t, result.Records, 1, "hits without a stored record are dropped")
	assert.Equal(t, "rec-1", result.Records[0].ID)
	assert.InDelta(t, 0.93, result.Confidence, 1e-9)
}
