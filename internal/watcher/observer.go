package watcher

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Run starts the observer in the requested mode and blocks until ctx is
// cancelled (or, in polling mode, until opts.MaxIterations ticks have
// elapsed). ModeAuto prefers push and falls back to polling if fsnotify
// is unavailable on this platform.
func Run(ctx context.Context, mode Mode, opts Options, q Enqueuer, logger *slog.Logger) error {
	switch mode {
	case ModePush:
		return NewPushWatcher(opts, q, logger).Run(ctx)
	case ModePolling:
		return NewPollingWatcher(opts, q, logger).Run(ctx)
	case ModeAuto:
		if probeFsnotify() {
			return NewPushWatcher(opts, q, logger).Run(ctx)
		}
		return NewPollingWatcher(opts, q, logger).Run(ctx)
	default:
		return NewPollingWatcher(opts, q, logger).Run(ctx)
	}
}

// probeFsnotify reports whether fsnotify can initialize on this
// platform, used by ModeAuto to choose push over polling.
func probeFsnotify() bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	_ = w.Close()
	return true
}
