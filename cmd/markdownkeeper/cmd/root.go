// Package cmd provides the CLI commands for markdownkeeper.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/L3DigitalNet/markdownkeeper/internal/config"
	"github.com/L3DigitalNet/markdownkeeper/internal/embed"
	"github.com/L3DigitalNet/markdownkeeper/internal/logging"
	"github.com/L3DigitalNet/markdownkeeper/internal/queue"
	"github.com/L3DigitalNet/markdownkeeper/internal/repository"
	"github.com/L3DigitalNet/markdownkeeper/internal/store"
	"github.com/L3DigitalNet/markdownkeeper/pkg/version"
)

var (
	cfgPath  string
	debugLog bool
	logger   *slog.Logger
	cleanup  func()
)

// NewRootCmd creates the root command for the markdownkeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "markdownkeeper",
		Short:   "Continuous markdown ingestion and semantic retrieval",
		Version: version.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cleanup != nil {
				cleanup()
			}
			return nil
		},
	}
	cmd.SetVersionTemplate("markdownkeeper version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	cmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

func setupLogging() error {
	logCfg := logging.DefaultConfig()
	if debugLog {
		logCfg.Level = "debug"
	}
	l, c, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	logger = l
	cleanup = c
	return nil
}

func loadConfig() config.Config {
	return config.LoadOrDefault(cfgPath)
}

// openRepository opens the database at cfg.Storage.DatabasePath and
// returns a ready-to-use Repository, Queue, and a close function. Open
// and embedder-cache failures are returned as errors.
func openRepository(cfg config.Config) (*repository.Repository, *queue.Queue, func() error, error) {
	db, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	base := embed.NewTokenHashEmbedder()
	cached, err := embed.NewCachedEmbedder(base, cfg.Embedding.CacheSize)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("construct embedder cache: %w", err)
	}

	repo := repository.New(db, cached)
	q := queue.New(db, repo)
	return repo, q, db.Close, nil
}

// exitCode maps a command's result to the process exit code: 0 for
// success and 1 for any error, including cobra usage errors such as a
// missing argument or an unknown flag. Exit code 2 comes only from
// fatalf, which get uses for an unparsable document id.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

// Execute runs the root command and returns its exit code as exitCode
// maps it: 0 on success, 1 on any error.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		return exitCode(err)
	}
	return 0
}
