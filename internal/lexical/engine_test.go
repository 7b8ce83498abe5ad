package lexical

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_SingleTermMatchesOnlyRelevantDocument(t *testing.T) {
	// Given: three documents about distinct topics
	e := NewEngine()
	e.Index(Document{ID: "1", Content: "authentication jwt"})
	e.Index(Document{ID: "2", Content: "database indexing"})
	e.Index(Document{ID: "3", Content: "react hooks"})

	// When: querying for "jwt"
	results := e.Search("jwt", 10, 0)

	// Then: exactly the first document comes back with a positive score
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearch_ResultsSortedDescendingAboveThreshold(t *testing.T) {
	e := NewEngine()
	e.Index(Document{ID: "a", Content: "golang channels golang goroutines golang scheduler"})
	e.Index(Document{ID: "b", Content: "golang maps and slices tutorial content padding words everywhere"})
	e.Index(Document{ID: "c", Content: "python decorators"})

	threshold := 0.01
	results := e.Search("golang goroutines", 10, threshold)

	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, threshold)
		assert.NotEqual(t, "c", r.ID, "zero-match documents must be excluded")
	}
}

func TestSearch_TiesBrokenByInsertionOrder(t *testing.T) {
	e := NewEngine()
	e.Index(Document{ID: "second-content", Content: "kubernetes deployment"})
	e.Index(Document{ID: "first-content", Content: "kubernetes deployment"})

	results := e.Search("kubernetes", 10, 0)

	require.Len(t, results, 2)
	assert.Equal(t, "second-content", results[0].ID)
	assert.Equal(t, "first-content", results[1].ID)
}

func TestSearch_LimitCapsResults(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 10; i++ {
		e.Index(Document{ID: fmt.Sprintf("doc-%d", i), Content: "shared topic vocabulary"})
	}

	results := e.Search("vocabulary", 3, 0)
	assert.Len(t, results, 3)
}

func TestIndex_ReindexRetractsStalePostings(t *testing.T) {
	// Given: a document containing "kafka"
	e := NewEngine()
	before := e.DocumentFrequency("kafka")
	e.Index(Document{ID: "doc", Content: "kafka consumer groups"})
	require.Equal(t, before+1, e.DocumentFrequency("kafka"))

	// When: reindexing the same id with different content
	e.Index(Document{ID: "doc", Content: "rabbitmq exchanges"})

	// Then: df for the old-only term returns to its pre-insertion value
	assert.Equal(t, before, e.DocumentFrequency("kafka"))
	assert.Equal(t, 1, e.DocumentFrequency("rabbitmq"))
	assert.Empty(t, e.Search("kafka", 10, 0), "stale postings must not match")
	assert.Len(t, e.Search("rabbitmq", 10, 0), 1)
}

func TestIndex_IdempotentForIdenticalContent(t *testing.T) {
	e := NewEngine()
	e.Index(Document{ID: "doc", Content: "terraform state locking"})
	first := e.Search("terraform", 10, 0)
	statsFirst := e.Stats()

	e.Index(Document{ID: "doc", Content: "terraform state locking"})
	second := e.Search("terraform", 10, 0)

	assert.Equal(t, first, second)
	assert.Equal(t, statsFirst, e.Stats())
	assert.Equal(t, 1, e.Stats().Documents)
}

func TestRemove_RetractsPostingsAndCounts(t *testing.T) {
	e := NewEngine()
	e.Index(Document{ID: "x", Content: "grpc streaming"})
	e.Index(Document{ID: "y", Content: "grpc interceptors"})

	require.True(t, e.Remove("x"))

	assert.Equal(t, 1, e.DocumentFrequency("grpc"))
	assert.Equal(t, 0, e.DocumentFrequency("streaming"), "term with zero df must be deleted")
	assert.Equal(t, 1, e.Stats().Documents)
}

func TestRemove_UnknownIDLeavesIndexUnchanged(t *testing.T) {
	e := NewEngine()
	e.Index(Document{ID: "x", Content: "redis pipelines"})
	e.Index(Document{ID: "gone", Content: "memcached"})
	require.True(t, e.Remove("gone"))
	statsBefore := e.Stats()

	// Removing a since-deleted id returns false and changes nothing.
	assert.False(t, e.Remove("gone"))
	assert.Equal(t, statsBefore, e.Stats())
}

func TestIDF_ReflectsDocumentFrequencyChanges(t *testing.T) {
	e := NewEngine()
	e.Index(Document{ID: "1", Content: "singleton pattern"})
	e.Index(Document{ID: "2", Content: "observer pattern"})
	e.Index(Document{ID: "3", Content: "esoteric flavor"})

	// "pattern" appears in two of three docs, "esoteric" in one: the rarer
	// term must outrank the common one for equal-tf matches.
	common := e.Search("pattern", 10, 0)
	rare := e.Search("esoteric", 10, 0)
	require.NotEmpty(t, common)
	require.NotEmpty(t, rare)
	assert.Greater(t, rare[0].Score, common[0].Score)

	// After removing one "pattern" document the cached idf must be
	// invalidated and the remaining match scored higher.
	before := common[0].Score
	require.True(t, e.Remove("2"))
	after := e.Search("pattern", 10, 0)
	require.Len(t, after, 1)
	assert.Greater(t, after[0].Score, before)
}

func TestFindSimilar_ExcludesSourceDocument(t *testing.T) {
	e := NewEngine()
	e.Index(Document{ID: "a", Content: "postgres connection pooling with pgbouncer"})
	e.Index(Document{ID: "b", Content: "postgres connection limits and pooling"})
	e.Index(Document{ID: "c", Content: "css grid layout"})

	results := e.FindSimilar("a", 10)

	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
	assert.Equal(t, "b", results[0].ID)
}

func TestFindSimilar_UnknownIDReturnsNil(t *testing.T) {
	e := NewEngine()
	e.Index(Document{ID: "a", Content: "whatever"})
	assert.Nil(t, e.FindSimilar("missing", 5))
}

func TestSearch_EmptyQueryAndEmptyIndex(t *testing.T) {
	e := NewEngine()
	assert.Empty(t, e.Search("anything", 10, 0))

	e.Index(Document{ID: "a", Content: "content"})
	assert.Empty(t, e.Search("", 10, 0))
	assert.Empty(t, e.Search("the and for", 10, 0), "stop-word-only queries match nothing")
}

func TestSearch_HighlightsContainQueryTerms(t *testing.T) {
	e := NewEngine()
	e.Index(Document{ID: "a", Content: "First we tried caching. Then we added sharding to the cluster! Finally nothing else mattered."})

	results := e.Search("sharding", 10, 0)

	require.Len(t, results, 1)
	require.Len(t, results[0].Highlights, 1)
	assert.Contains(t, results[0].Highlights[0], "sharding")
}

func TestSearch_HighlightsCappedAtThreeInOriginalOrder(t *testing.T) {
	e := NewEngine()
	content := "alpha cache one. beta cache two. gamma cache three. delta cache four."
	e.Index(Document{ID: "a", Content: content})

	results := e.Search("cache", 10, 0)

	require.Len(t, results, 1)
	require.Len(t, results[0].Highlights, 3)
	assert.Contains(t, results[0].Highlights[0], "alpha")
	assert.Contains(t, results[0].Highlights[1], "beta")
	assert.Contains(t, results[0].Highlights[2], "gamma")
}

func TestIndex_ChangedContentIsAlwaysFreshlyTokenized(t *testing.T) {
	// The token cache may serve query tokenization, but indexing the same id
	// with new content must observe the new content immediately.
	e := NewEngine()
	e.Index(Document{ID: "doc", Content: "elasticsearch aggregations"})
	require.Len(t, e.Search("elasticsearch", 10, 0), 1)

	e.Index(Document{ID: "doc", Content: "opensearch dashboards"})

	assert.Empty(t, e.Search("elasticsearch", 10, 0))
	assert.Len(t, e.Search("opensearch", 10, 0), 1)
}
