package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PushWatcher subscribes to filesystem change notifications recursively
// under each configured root. It accumulates changed and deleted path
// sets (filtered by suffix) and flushes them into the queue on each
// debounce tick. A rename is modelled as delete(src) + change(dest).
type PushWatcher struct {
	opts   Options
	queue  Enqueuer
	logger *slog.Logger

	mu      sync.Mutex
	changed map[string]struct{}
	deleted map[string]struct{}
}

// NewPushWatcher constructs a push-mode observer over opts, enqueuing
// into q.
func NewPushWatcher(opts Options, q Enqueuer, logger *slog.Logger) *PushWatcher {
	return &PushWatcher{
		opts:    opts.WithDefaults(),
		queue:   q,
		logger:  logger,
		changed: map[string]struct{}{},
		deleted: map[string]struct{}{},
	}
}

// Run subscribes to fsnotify events recursively under every root and
// flushes accumulated changes on each debounce tick until ctx is
// cancelled, performing one final flush before returning.
func (w *PushWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	roots := absRoots(w.opts.Roots)
	for _, root := range roots {
		if err := addRecursive(fsw, root); err != nil && w.logger != nil {
			w.logger.Warn("failed to watch root", slog.String("root", root), slog.String("error", err.Error()))
		}
	}

	interval := time.Duration(w.opts.DebounceMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				w.flush(context.Background())
				return nil
			}
			w.handle(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				w.flush(context.Background())
				return nil
			}
			if w.logger != nil {
				w.logger.Warn("fsnotify error", slog.String("error", err.Error()))
			}
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *PushWatcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !matchesSuffix(ev.Name, w.opts.Extensions) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && ev.Op&fsnotify.Create != 0 {
			_ = addRecursive(fsw, ev.Name)
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(w.changed, ev.Name)
		w.deleted[ev.Name] = struct{}{}
	default:
		delete(w.deleted, ev.Name)
		w.changed[ev.Name] = struct{}{}
	}
}

// flush snapshots the accumulated sets, clears them, enqueues, and
// drains.
func (w *PushWatcher) flush(ctx context.Context) {
	w.mu.Lock()
	changed := make([]string, 0, len(w.changed))
	for p := range w.changed {
		changed = append(changed, p)
	}
	deleted := make([]string, 0, len(w.deleted))
	for p := range w.deleted {
		deleted = append(deleted, p)
	}
	w.changed = map[string]struct{}{}
	w.deleted = map[string]struct{}{}
	w.mu.Unlock()

	if len(changed) == 0 && len(deleted) == 0 {
		return
	}

	if err := w.queue.Enqueue(ctx, changed, deleted); err != nil {
		if w.logger != nil {
			w.logger.Warn("enqueue failed", slog.String("error", err.Error()))
		}
		return
	}

	start := time.Now()
	result, err := w.queue.Drain(ctx, w.opts.DrainBatch)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("drain failed", slog.String("error", err.Error()))
		}
		return
	}
	logDrain(w.logger, result, time.Since(start))
}

// addRecursive adds root and every directory beneath it to fsw's watch
// list.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = fsw.Add(path)
		}
		return nil
	})
}
