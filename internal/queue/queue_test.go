package queue

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerr "github.com/engram-dev/engram/internal/errors"
	"github.com/engram-dev/engram/internal/memory"
)

// fakeIndexer records everything forwarded by the processor, keyed by record
// ID so redeliveries overwrite like the real engine does.
type fakeIndexer struct {
	mu      sync.Mutex
	records map[string]*memory.Record
	calls   int
	fail    bool
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{records: make(map[string]*memory.Record)}
}

func (f *fakeIndexer) IndexRecord(ctx context.Context, rec *memory.Record) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return false
	}
	f.records[rec.ID] = rec
	return true
}

func (f *fakeIndexer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func writeQueueFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDecodeEntry_TransactionDefaults(t *testing.T) {
	line := []byte(`{"type":"transaction","timestamp":1700000000000,"prompt":"implement auth","response":"done"}`)

	entry, err := DecodeEntry(line)
	require.NoError(t, err)

	tx, ok := entry.(*TransactionEntry)
	require.True(t, ok)
	assert.NotEmpty(t, tx.CWD, "cwd defaults to the process working directory")
	assert.Equal(t, runtime.GOOS, tx.Platform)
	assert.NotNil(t, tx.ToolsAvailable)

	rec := entry.Record()
	assert.Equal(t, "implement auth", rec.Prompt)
	assert.Equal(t, "done", rec.Result)
	assert.Equal(t, "transaction", rec.Category)
	assert.NotEmpty(t, rec.ID)
}

func TestDecodeEntry_DeterministicIDs(t *testing.T) {
	line := []byte(`{"type":"prompt","timestamp":1700000000000,"prompt":"same entry"}`)

	a, err := DecodeEntry(line)
	require.NoError(t, err)
	b, err := DecodeEntry(line)
	require.NoError(t, err)

	assert.Equal(t, a.Record().ID, b.Record().ID)

	other, err := DecodeEntry([]byte(`{"type":"prompt","timestamp":1700000000000,"prompt":"different entry"}`))
	require.NoError(t, err)
	assert.NotEqual(t, a.Record().ID, other.Record().ID)
}

func TestDecodeEntry_UnknownTypeRejected(t *testing.T) {
	_, err := DecodeEntry([]byte(`{"type":"mystery","timestamp":1}`))
	require.Error(t, err)
	assert.Equal(t, engerr.ErrCodeUnknownEntryType, engerr.GetCode(err))
}

func TestDecodeEntry_MalformedJSONRejected(t *testing.T) {
	_, err := DecodeEntry([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, engerr.ErrCodeMalformedEntry, engerr.GetCode(err))
}

func TestDecodeEntry_IndexedFilesRecord(t *testing.T) {
	line := []byte(`{"type":"indexed-files","timestamp":1700000000000,"files":["a.go","b.go"]}`)

	entry, err := DecodeEntry(line)
	require.NoError(t, err)

	rec := entry.Record()
	assert.Equal(t, "indexed 2 files", rec.Prompt)
	assert.Contains(t, rec.Result, "a.go")
	assert.Equal(t, "indexed-files", rec.Category)
}

func TestDrain_TwoValidOneMalformedLine(t *testing.T) {
	dir := t.TempDir()
	writeQueueFile(t, dir, "transactions.jsonl",
		`{"type":"transaction","timestamp":1,"prompt":"first"}`+"\n"+
			`{"type":"transaction","timestamp":2,"prompt":"second"}`+"\n"+
			`{"this line is broken`+"\n")

	indexer := newFakeIndexer()
	p := NewProcessor(indexer, ProcessorConfig{Dir: dir})
	p.Drain(context.Background())

	assert.Equal(t, 2, indexer.count())

	counters := p.Counters()
	assert.Equal(t, int64(2), counters.Saved)
	assert.Equal(t, int64(1), counters.Skipped)
	assert.Equal(t, int64(0), counters.Failed)

	_, err := os.Stat(filepath.Join(dir, "transactions.jsonl"))
	assert.True(t, os.IsNotExist(err), "queue file deleted after the batch")
}

func TestDrain_AtLeastOnceRedeliveryOverwrites(t *testing.T) {
	dir := t.TempDir()
	content := `{"type":"prompt","timestamp":1700000000000,"prompt":"replayed entry"}` + "\n"

	indexer := newFakeIndexer()
	p := NewProcessor(indexer, ProcessorConfig{Dir: dir})

	// Same file content drained twice simulates a crash between drain and
	// file deletion.
	writeQueueFile(t, dir, "prompts.jsonl", content)
	p.Drain(context.Background())
	writeQueueFile(t, dir, "prompts.jsonl", content)
	p.Drain(context.Background())

	assert.Equal(t, 1, indexer.count(), "redelivery overwrites the same record")
	assert.Equal(t, int64(2), p.Counters().Saved)
}

func TestDrain_LegacyArrayFallback(t *testing.T) {
	dir := t.TempDir()
	writeQueueFile(t, dir, "edits.json",
		`[{"type":"edit","timestamp":1,"file":"main.go","summary":"renamed handler"},`+
			`{"type":"edit","timestamp":2,"file":"util.go"}]`)

	indexer := newFakeIndexer()
	p := NewProcessor(indexer, ProcessorConfig{Dir: dir})
	p.Drain(context.Background())

	assert.Equal(t, 2, indexer.count())

	_, err := os.Stat(filepath.Join(dir, "edits.json"))
	assert.True(t, os.IsNotExist(err), "legacy file deleted after the batch")
}

func TestDrain_NewFormatShadowsLegacy(t *testing.T) {
	dir := t.TempDir()
	writeQueueFile(t, dir, "prompts.jsonl",
		`{"type":"prompt","timestamp":1,"prompt":"from jsonl"}`+"\n")
	writeQueueFile(t, dir, "prompts.json",
		`[{"type":"prompt","timestamp":2,"prompt":"from legacy"}]`)

	indexer := newFakeIndexer()
	p := NewProcessor(indexer, ProcessorConfig{Dir: dir})
	p.Drain(context.Background())

	require.Equal(t, 1, indexer.count())
	for _, rec := range indexer.records {
		assert.Equal(t, "from jsonl", rec.Prompt)
	}

	// Legacy file survives; it is only consulted when the jsonl is empty.
	_, err := os.Stat(filepath.Join(dir, "prompts.json"))
	assert.NoError(t, err)
}

func TestDrain_FailedIndexStillDeletesFile(t *testing.T) {
	dir := t.TempDir()
	writeQueueFile(t, dir, "prompts.jsonl",
		`{"type":"prompt","timestamp":1,"prompt":"doomed"}`+"\n")

	indexer := newFakeIndexer()
	indexer.fail = true
	p := NewProcessor(indexer, ProcessorConfig{Dir: dir})
	p.Drain(context.Background())

	assert.Equal(t, int64(1), p.Counters().Failed)

	_, err := os.Stat(filepath.Join(dir, "prompts.jsonl"))
	assert.True(t, os.IsNotExist(err), "file deleted once the batch was attempted")
}

func TestDrain_EmptyDirectoryIsANoOp(t *testing.T) {
	indexer := newFakeIndexer()
	p := NewProcessor(indexer, ProcessorConfig{Dir: t.TempDir()})
	p.Drain(context.Background())

	assert.Equal(t, 0, indexer.calls)
	assert.Equal(t, Counters{}, p.Counters())
}

func TestProcessor_RunDrainsEagerlyAndOnShutdown(t *testing.T) {
	dir := t.TempDir()
	writeQueueFile(t, dir, "prompts.jsonl",
		`{"type":"prompt","timestamp":1,"prompt":"eager entry"}`+"\n")

	indexer := newFakeIndexer()
	p := NewProcessor(indexer, ProcessorConfig{Dir: dir, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return indexer.count() == 1 },
		2*time.Second, 10*time.Millisecond, "eager drain at startup")

	// Written after startup: only the shutdown pass can pick it up given the
	// one-hour interval.
	writeQueueFile(t, dir, "prompts.jsonl",
		`{"type":"prompt","timestamp":2,"prompt":"shutdown entry"}`+"\n")
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop")
	}
	assert.Equal(t, 2, indexer.count(), "final drain during shutdown")
}

func TestProcessor_NudgeTriggersEarlyDrain(t *testing.T) {
	dir := t.TempDir()

	indexer := newFakeIndexer()
	p := NewProcessor(indexer, ProcessorConfig{Dir: dir, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Let the eager pass finish before producing.
	require.Eventually(t, func() bool { return !p.draining.Load() },
		2*time.Second, 10*time.Millisecond)

	writeQueueFile(t, dir, "prompts.jsonl",
		`{"type":"prompt","timestamp":1,"prompt":"nudged entry"}`+"\n")
	p.Nudge()

	require.Eventually(t, func() bool { return indexer.count() == 1 },
		2*time.Second, 10*time.Millisecond, "nudge drained ahead of the timer")

	cancel()
	<-done
}

func TestWatcher_NudgesOnQueueFileWrite(t *testing.T) {
	dir := t.TempDir()

	indexer := newFakeIndexer()
	p := NewProcessor(indexer, ProcessorConfig{Dir: dir, Interval: time.Hour})
	w := NewWatcher(p, dir, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()
	go w.Run(ctx)

	require.Eventually(t, func() bool { return !p.draining.Load() },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the watch establish

	writeQueueFile(t, dir, "transactions.jsonl",
		`{"type":"transaction","timestamp":1,"prompt":"watched entry"}`+"\n")

	require.Eventually(t, func() bool { return indexer.count() == 1 },
		3*time.Second, 20*time.Millisecond, "write triggered a drain")
}
