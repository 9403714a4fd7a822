package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/L3DigitalNet/markdownkeeper/internal/api"
	"github.com/L3DigitalNet/markdownkeeper/internal/daemon"
	"github.com/L3DigitalNet/markdownkeeper/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the observer, drainer, and JSON-RPC API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), mode)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "observer mode override: polling, push, or auto")
	return cmd
}

func runServe(ctx context.Context, modeOverride string) error {
	cfg := loadConfig()

	lockPath := cfg.Storage.DatabasePath + ".pid"
	lock := daemon.NewPIDLock(lockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another markdownkeeper instance is already serving %s", cfg.Storage.DatabasePath)
	}
	defer lock.Unlock() //nolint:errcheck

	repo, q, closeDB, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := watcher.Mode(cfg.Watch.Mode)
	if modeOverride != "" {
		mode = watcher.Mode(modeOverride)
	}

	opts := watcher.Options{
		Roots:      cfg.Watch.Roots,
		Extensions: cfg.Watch.Extensions,
		DebounceMS: cfg.Watch.DebounceMS,
		PollMS:     cfg.Watch.PollMS,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- watcher.Run(ctx, mode, opts, q, logger)
	}()

	server := api.New(repo, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler: server.Handler(),
	}
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	if logger != nil {
		logger.Info("serving", "addr", httpServer.Addr, "mode", mode.String())
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && logger != nil {
			logger.Error("component stopped unexpectedly", "error", err.Error())
		}
	}
	_ = httpServer.Close()
	return nil
}
