package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show document, queue, and embedding coverage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command) error {
	cfg := loadConfig()

	repo, q, closeDB, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	stats, err := repo.SystemStats(ctx, q)
	if err != nil {
		return fmt.Errorf("gather stats: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Documents:        %d\n", stats.DocumentCount)
	fmt.Fprintf(w, "Links:            %d\n", stats.LinkCount)
	fmt.Fprintf(w, "Queue lag (s):    %.1f\n", stats.QueueLagSeconds)
	for status, count := range stats.QueueCounts {
		fmt.Fprintf(w, "  queue[%s]:      %d\n", status, count)
	}
	fmt.Fprintf(w, "Embedded docs:    %d/%d\n", stats.Embedding.EmbeddedDocuments, stats.Embedding.Documents)
	fmt.Fprintf(w, "Embedded chunks:  %d/%d\n", stats.Embedding.EmbeddedChunks, stats.Embedding.Chunks)
	return nil
}
