package queue

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches a producer's burst of writes into one nudge.
const DefaultDebounce = 500 * time.Millisecond

// Watcher nudges the processor when a producer writes a queue file, so
// entries are drained ahead of the next timer tick. It is purely an
// accelerator: the timer alone is sufficient for correctness.
type Watcher struct {
	processor *Processor
	dir       string
	debounce  time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher over the processor's queue directory.
func NewWatcher(processor *Processor, dir string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		processor: processor,
		dir:       dir,
		debounce:  debounce,
	}
}

// Run watches until ctx is cancelled. A failure to establish the watch is
// logged and absorbed; the interval timer still drains the queue.
func (w *Watcher) Run(ctx context.Context) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("queue watcher unavailable, relying on interval timer",
			slog.String("error", err.Error()))
		return
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		slog.Warn("cannot watch queue directory, relying on interval timer",
			slog.String("dir", w.dir),
			slog.String("error", err.Error()))
		return
	}

	queueFiles := make(map[string]struct{}, 2*len(Categories))
	for entryType, name := range Categories {
		queueFiles[name] = struct{}{}
		queueFiles[LegacyFileName(entryType)] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if _, tracked := queueFiles[filepath.Base(event.Name)]; !tracked {
				continue
			}
			w.scheduleNudge()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Warn("queue watch error", slog.String("error", err.Error()))
		}
	}
}

// scheduleNudge arms (or re-arms) the debounce timer.
func (w *Watcher) scheduleNudge() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.processor.Nudge)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
}
