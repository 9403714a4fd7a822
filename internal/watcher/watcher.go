// Package watcher implements the filesystem observer: a polling mode that
// diffs directory snapshots and a push mode built on fsnotify, both
// emitting coalesced changed/deleted path sets into the event queue.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/L3DigitalNet/markdownkeeper/internal/queue"
)

// Mode is the closed set of observer strategies a caller may request.
type Mode string

const (
	ModePolling Mode = "polling"
	ModePush    Mode = "push"
	ModeAuto    Mode = "auto"
)

func (m Mode) String() string { return string(m) }

// Enqueuer is the subset of *queue.Queue the observer depends on, kept as
// an interface so tests can stub it without a real database.
type Enqueuer interface {
	Enqueue(ctx context.Context, changedPaths, deletedPaths []string) error
	Drain(ctx context.Context, batchSize int) (queue.DrainResult, error)
}

// Options configures either observer mode.
type Options struct {
	Roots       []string
	Extensions  []string
	DebounceMS  int
	PollMS      int
	DrainBatch  int
	// MaxIterations caps the polling loop for deterministic tests; 0
	// means unbounded.
	MaxIterations int
}

// WithDefaults fills zero-valued fields with documented defaults.
func (o Options) WithDefaults() Options {
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".md", ".markdown"}
	}
	if o.DebounceMS <= 0 {
		o.DebounceMS = 500
	}
	if o.PollMS <= 0 {
		o.PollMS = 2000
	}
	if o.DrainBatch <= 0 {
		o.DrainBatch = 50
	}
	return o
}

func matchesSuffix(path string, extensions []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func absRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			abs = r
		}
		out = append(out, abs)
	}
	return out
}

func logDrain(logger *slog.Logger, result queue.DrainResult, elapsed time.Duration) {
	if logger == nil {
		return
	}
	logger.Info("drain complete",
		slog.Int("processed", result.Processed),
		slog.Int("created", result.Created),
		slog.Int("modified", result.Modified),
		slog.Int("deleted", result.Deleted),
		slog.Int("failed", result.Failed),
		slog.Duration("elapsed", elapsed),
	)
}
