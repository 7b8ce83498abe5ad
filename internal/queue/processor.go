package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	engerr "github.com/engram-dev/engram/internal/errors"
	"github.com/engram-dev/engram/internal/memory"
)

// Timing defaults for the drain loop.
const (
	DefaultInterval    = 30 * time.Second
	DefaultGracePeriod = 5 * time.Second
)

// Indexer receives converted records. Satisfied by retrieval.Engine.
type Indexer interface {
	IndexRecord(ctx context.Context, rec *memory.Record) bool
}

// Counters tracks drain outcomes across the processor's lifetime.
type Counters struct {
	Saved   int64
	Failed  int64
	Skipped int64
}

// Processor drains the queue files in a data directory on a fixed interval,
// once eagerly at start, and once more during shutdown. Drains never overlap
// with each other; they may run concurrently with inbound queries.
type Processor struct {
	indexer  Indexer
	dir      string
	interval time.Duration
	grace    time.Duration

	lock     *flock.Flock
	draining atomic.Bool
	nudge    chan struct{}

	saved   atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64

	wg sync.WaitGroup
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// Dir is the data directory containing the queue files.
	Dir string
	// Interval between drain passes (default: DefaultInterval).
	Interval time.Duration
	// GracePeriod bounds the final drain during shutdown (default:
	// DefaultGracePeriod).
	GracePeriod time.Duration
}

// NewProcessor creates a drain processor over the given directory.
func NewProcessor(indexer Indexer, cfg ProcessorConfig) *Processor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Processor{
		indexer:  indexer,
		dir:      cfg.Dir,
		interval: cfg.Interval,
		grace:    cfg.GracePeriod,
		lock:     flock.New(filepath.Join(cfg.Dir, ".queue.lock")),
		nudge:    make(chan struct{}, 1),
	}
}

// Nudge requests an early drain pass. Non-blocking; redundant nudges while a
// request is pending are coalesced.
func (p *Processor) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Run drains eagerly, then on every tick or nudge, until ctx is cancelled.
// On cancellation it performs one final drain bounded by the grace period.
// The queue directory is locked for the duration so two service instances
// cannot drain the same files.
func (p *Processor) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return engerr.ResourceError("cannot create queue directory", err).
			WithDetail("dir", p.dir)
	}

	held, err := p.lock.TryLock()
	if err != nil {
		return engerr.ResourceError("cannot acquire queue lock", err).
			WithDetail("path", p.lock.Path())
	}
	if !held {
		return engerr.New(engerr.ErrCodeLockHeld, "queue directory is locked by another process", nil).
			WithDetail("path", p.lock.Path())
	}
	defer func() { _ = p.lock.Unlock() }()

	// Eager pass picks up whatever producers wrote while we were down.
	p.Drain(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), p.grace)
			p.Drain(shutdownCtx)
			cancel()
			p.wg.Wait()
			return nil
		case <-ticker.C:
			p.Drain(ctx)
		case <-p.nudge:
			p.Drain(ctx)
		}
	}
}

// DrainOnce runs a single locked drain pass. Used by one-shot commands; a
// concurrently running service holding the queue lock makes this an error.
func (p *Processor) DrainOnce(ctx context.Context) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return engerr.ResourceError("cannot create queue directory", err).
			WithDetail("dir", p.dir)
	}

	held, err := p.lock.TryLock()
	if err != nil {
		return engerr.ResourceError("cannot acquire queue lock", err).
			WithDetail("path", p.lock.Path())
	}
	if !held {
		return engerr.New(engerr.ErrCodeLockHeld, "queue directory is locked by another process", nil).
			WithDetail("path", p.lock.Path())
	}
	defer func() { _ = p.lock.Unlock() }()

	p.Drain(ctx)
	return nil
}

// Drain runs one pass over every queue category. If a pass is already in
// flight the call is skipped.
func (p *Processor) Drain(ctx context.Context) {
	if !p.draining.CompareAndSwap(false, true) {
		slog.Debug("drain already in progress, skipping")
		return
	}
	defer p.draining.Store(false)

	p.wg.Add(1)
	defer p.wg.Done()

	g, ctx := errgroup.WithContext(ctx)
	for entryType := range Categories {
		g.Go(func() error {
			p.drainCategory(ctx, entryType)
			return nil
		})
	}
	_ = g.Wait()
}

// drainCategory processes one category's queue file: read whole, decode per
// line, forward each record, delete the file only after the full batch was
// attempted.
func (p *Processor) drainCategory(ctx context.Context, entryType EntryType) {
	path := filepath.Join(p.dir, Categories[entryType])

	lines, usedPath := p.readQueueFile(path, entryType)
	if len(lines) == 0 {
		return
	}

	var saved, failed, skipped int64
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		entry, err := DecodeEntry(line)
		if err != nil {
			skipped++
			slog.Warn("skipping malformed queue line",
				slog.String("category", string(entryType)),
				slog.String("error", err.Error()))
			continue
		}
		if p.indexer.IndexRecord(ctx, entry.Record()) {
			saved++
		} else {
			failed++
		}
	}

	p.saved.Add(saved)
	p.failed.Add(failed)
	p.skipped.Add(skipped)

	// The file goes away only after every entry was attempted. A crash
	// before this point redelivers the batch; deterministic record IDs make
	// that an overwrite, not a duplicate.
	if err := os.Remove(usedPath); err != nil && !os.IsNotExist(err) {
		slog.Error("cannot remove drained queue file",
			slog.String("path", usedPath),
			slog.String("error", err.Error()))
	}

	slog.Info("queue category drained",
		slog.String("category", string(entryType)),
		slog.Int64("saved", saved),
		slog.Int64("failed", failed),
		slog.Int64("skipped", skipped))
}

// readQueueFile loads the newline-delimited queue file, falling back to the
// older single-JSON-array format when the newer file is absent or empty.
// It returns the raw entry lines and the path that should be deleted.
func (p *Processor) readQueueFile(path string, entryType EntryType) ([][]byte, string) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		slog.Error("cannot read queue file",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, path
	}

	if lines := splitLines(data); len(lines) > 0 {
		return lines, path
	}

	legacyPath := filepath.Join(p.dir, LegacyFileName(entryType))
	legacyData, err := os.ReadFile(legacyPath)
	if err != nil {
		return nil, path
	}

	var rawEntries []json.RawMessage
	if err := json.Unmarshal(legacyData, &rawEntries); err != nil {
		slog.Warn("legacy queue file is not a JSON array, dropping",
			slog.String("path", legacyPath),
			slog.String("error", err.Error()))
		_ = os.Remove(legacyPath)
		return nil, path
	}

	lines := make([][]byte, 0, len(rawEntries))
	for _, raw := range rawEntries {
		lines = append(lines, []byte(raw))
	}
	return lines, legacyPath
}

// splitLines splits file contents on newlines, dropping blank lines.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := trimCR(data[start:i])
			if len(line) > 0 {
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	return lines
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}

// Counters returns a snapshot of lifetime drain outcomes.
func (p *Processor) Counters() Counters {
	return Counters{
		Saved:   p.saved.Load(),
		Failed:  p.failed.Load(),
		Skipped: p.skipped.Load(),
	}
}
