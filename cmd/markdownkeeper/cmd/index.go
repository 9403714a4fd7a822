package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan the configured roots once and ingest every matching file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command) error {
	cfg := loadConfig()

	_, q, closeDB, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	var paths []string
	for _, root := range cfg.Watch.Roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if matchesExtension(path, cfg.Watch.Extensions) {
				paths = append(paths, path)
			}
			return nil
		})
	}

	if err := q.Enqueue(ctx, paths, nil); err != nil {
		return fmt.Errorf("enqueue index scan: %w", err)
	}

	result, err := q.Drain(ctx, 200)
	if err != nil {
		return fmt.Errorf("drain index scan: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d files: %d created, %d modified, %d failed\n",
		result.Processed, result.Created, result.Modified, result.Failed)
	return nil
}

func matchesExtension(path string, extensions []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
