package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"
)

// PollingWatcher holds a snapshot of path -> mtime over the configured
// roots and suffixes. Each tick it takes a fresh snapshot, computes
// created/deleted/modified sets against the previous one, enqueues them,
// and drains.
type PollingWatcher struct {
	opts   Options
	queue  Enqueuer
	logger *slog.Logger

	snapshot map[string]time.Time
}

// NewPollingWatcher constructs a polling observer over opts, enqueuing
// into q.
func NewPollingWatcher(opts Options, q Enqueuer, logger *slog.Logger) *PollingWatcher {
	return &PollingWatcher{
		opts:     opts.WithDefaults(),
		queue:    q,
		logger:   logger,
		snapshot: map[string]time.Time{},
	}
}

// Run scans, diffs, enqueues, and drains on a tick loop until ctx is
// cancelled or MaxIterations ticks have elapsed (0 means unbounded).
func (p *PollingWatcher) Run(ctx context.Context) error {
	p.snapshot = p.scan()

	interval := time.Duration(p.opts.PollMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	iterations := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.tick(ctx); err != nil && p.logger != nil {
				p.logger.Warn("polling tick failed", slog.String("error", err.Error()))
			}
			iterations++
			if p.opts.MaxIterations > 0 && iterations >= p.opts.MaxIterations {
				return nil
			}
		}
	}
}

// tick performs one scan/diff/enqueue/drain cycle.
func (p *PollingWatcher) tick(ctx context.Context) error {
	next := p.scan()

	var created, deleted, modified []string
	for path, mtime := range next {
		old, existed := p.snapshot[path]
		switch {
		case !existed:
			created = append(created, path)
		case !old.Equal(mtime):
			modified = append(modified, path)
		}
	}
	for path := range p.snapshot {
		if _, exists := next[path]; !exists {
			deleted = append(deleted, path)
		}
	}
	p.snapshot = next

	changed := append(append([]string{}, created...), modified...)
	if len(changed) == 0 && len(deleted) == 0 {
		return nil
	}

	if err := p.queue.Enqueue(ctx, changed, deleted); err != nil {
		return err
	}

	start := time.Now()
	result, err := p.queue.Drain(ctx, p.opts.DrainBatch)
	if err != nil {
		return err
	}
	logDrain(p.logger, result, time.Since(start))
	return nil
}

// scan walks every root and records the mtime of every file whose name
// matches a configured suffix (case-insensitive).
func (p *PollingWatcher) scan() map[string]time.Time {
	out := map[string]time.Time{}
	for _, root := range absRoots(p.opts.Roots) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !matchesSuffix(path, p.opts.Extensions) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			out[path] = info.ModTime()
			return nil
		})
	}
	return out
}
