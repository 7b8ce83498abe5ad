// Package lexical implements the in-memory TF-IDF search engine used when the
// remote vector backend is absent or unreachable. It is synchronous and
// in-memory: it has no failure modes that cross process boundaries.
package lexical

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTokenCacheSize bounds the tokenization cache for query/similarity
// lookups.
const DefaultTokenCacheSize = 512

// Document is the lexical projection of a record: its text content plus the
// metadata needed for ranking.
type Document struct {
	ID        string
	Content   string
	Timestamp int64
}

// Result is a single ranked search hit.
type Result struct {
	ID         string
	Score      float64
	Content    string
	Timestamp  int64
	Highlights []string
}

// Stats describes the current index shape.
type Stats struct {
	Documents int
	Terms     int
}

// docEntry is the indexed form of a document.
type docEntry struct {
	content   string
	timestamp int64
	termFreqs map[string]int
	seq       int // insertion order, used to break score ties
}

// Engine maintains an inverted index over documents and scores them against
// queries with a TF-IDF variant. All mutating operations are atomic with
// respect to a single call: no partial postings are visible mid-update.
type Engine struct {
	mu sync.Mutex

	tokenizer *Tokenizer
	docs      map[string]*docEntry
	postings  map[string]map[string]int // term -> docID -> tf
	idfCache  map[string]float64        // invalidated whenever df changes
	nextSeq   int

	// tokenCache caches tokenization of previously seen content. It is
	// consulted only on the query/similarity path; content being indexed or
	// reindexed is always tokenized fresh.
	tokenCache *lru.Cache[string, []string]
}

// NewEngine creates an empty lexical engine.
func NewEngine() *Engine {
	cache, _ := lru.New[string, []string](DefaultTokenCacheSize)
	return &Engine{
		tokenizer:  NewTokenizer(nil),
		docs:       make(map[string]*docEntry),
		postings:   make(map[string]map[string]int),
		idfCache:   make(map[string]float64),
		tokenCache: cache,
	}
}

// Index inserts or replaces a document. Replacing fully retracts the prior
// version's postings before the new postings are added, so stale terms never
// contribute to document frequency.
func (e *Engine) Index(doc Document) {
	if doc.ID == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, exists := e.docs[doc.ID]
	if exists {
		e.retract(doc.ID, entry)
	} else {
		entry = &docEntry{seq: e.nextSeq}
		e.nextSeq++
		e.docs[doc.ID] = entry
	}

	// Freshly tokenize: a changed document must never hit the token cache.
	tokens := e.tokenizer.Tokenize(doc.Content)
	e.tokenCache.Add(contentKey(doc.Content), tokens)

	freqs := make(map[string]int, len(tokens))
	for _, term := range tokens {
		freqs[term]++
	}

	entry.content = doc.Content
	entry.timestamp = doc.Timestamp
	entry.termFreqs = freqs

	for term, tf := range freqs {
		byDoc, ok := e.postings[term]
		if !ok {
			byDoc = make(map[string]int)
			e.postings[term] = byDoc
		}
		byDoc[doc.ID] = tf
		delete(e.idfCache, term) // df changed
	}
}

// Remove retracts a document's postings and statistics.
// Returns false, leaving the index unchanged, if the id is not indexed.
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.docs[id]
	if !ok {
		return false
	}

	e.retract(id, entry)
	delete(e.docs, id)
	return true
}

// retract removes a document's term postings, deleting terms whose document
// frequency reaches zero and invalidating affected IDF cache entries.
// Must be called with the lock held.
func (e *Engine) retract(id string, entry *docEntry) {
	for term := range entry.termFreqs {
		if byDoc, ok := e.postings[term]; ok {
			delete(byDoc, id)
			if len(byDoc) == 0 {
				delete(e.postings, term)
			}
		}
		delete(e.idfCache, term)
	}
	entry.termFreqs = nil
}

// Search tokenizes the query and returns documents ranked by TF-IDF score,
// descending, ties broken by insertion order. Documents scoring below
// threshold or matching no query terms are excluded; at most limit results
// are returned.
func (e *Engine) Search(query string, limit int, threshold float64) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.search(query, limit, threshold, "")
}

// FindSimilar ranks other documents against the given document's own content.
// Returns nil if the id is not indexed.
func (e *Engine) FindSimilar(id string, limit int) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.docs[id]
	if !ok {
		return nil
	}
	return e.search(entry.content, limit, 0, id)
}

// search is the shared scoring path. exclude removes the source document for
// similarity lookups. Must be called with the lock held.
func (e *Engine) search(query string, limit int, threshold float64, exclude string) []Result {
	queryTerms := e.uniqueTerms(e.tokenizeCached(query))
	if len(queryTerms) == 0 || len(e.docs) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		byDoc, ok := e.postings[term]
		if !ok {
			continue
		}
		idf := e.idf(term)
		for docID, tf := range byDoc {
			if docID == exclude {
				continue
			}
			scores[docID] += (1 + math.Log(float64(tf))) * idf
		}
	}
	if len(scores) == 0 {
		return nil
	}

	queryNorm := math.Sqrt(float64(len(queryTerms)))
	results := make([]Result, 0, len(scores))
	for docID, raw := range scores {
		entry := e.docs[docID]
		docNorm := math.Sqrt(float64(len(entry.termFreqs)))
		if docNorm == 0 {
			continue
		}
		score := raw / (queryNorm * docNorm)
		if score < threshold {
			continue
		}
		results = append(results, Result{
			ID:        docID,
			Score:     score,
			Content:   entry.content,
			Timestamp: entry.timestamp,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return e.docs[results[i].ID].seq < e.docs[results[j].ID].seq
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	for i := range results {
		results[i].Highlights = extractHighlights(results[i].Content, queryTerms, e.tokenizer)
	}

	return results
}

// idf returns ln((N+1)/(df+1)) + 1, cached per term. Cache entries are
// invalidated by Index and Remove whenever a term's document frequency
// changes. Must be called with the lock held.
func (e *Engine) idf(term string) float64 {
	if v, ok := e.idfCache[term]; ok {
		return v
	}
	df := len(e.postings[term])
	v := math.Log(float64(len(e.docs)+1)/float64(df+1)) + 1
	e.idfCache[term] = v
	return v
}

// tokenizeCached serves query/similarity tokenization through the LRU cache.
func (e *Engine) tokenizeCached(text string) []string {
	key := contentKey(text)
	if tokens, ok := e.tokenCache.Get(key); ok {
		return tokens
	}
	tokens := e.tokenizer.Tokenize(text)
	e.tokenCache.Add(key, tokens)
	return tokens
}

func (e *Engine) uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	unique := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	return unique
}

// Stats returns the current document and distinct term counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Documents: len(e.docs),
		Terms:     len(e.postings),
	}
}

// DocumentFrequency returns the number of distinct documents whose current
// content contains the term.
func (e *Engine) DocumentFrequency(term string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.postings[term])
}

// Contains reports whether the id is currently indexed.
func (e *Engine) Contains(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.docs[id]
	return ok
}

func contentKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
