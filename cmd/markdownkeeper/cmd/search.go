package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var lexical bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a semantic (default) or lexical search against the corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, args[0], limit, lexical)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	cmd.Flags().BoolVar(&lexical, "lexical", false, "use lexical substring search instead of semantic ranking")
	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, limit int, lexical bool) error {
	cfg := loadConfig()

	repo, _, closeDB, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	if lexical {
		docs, err := repo.Search(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		printSummaries(cmd, docs)
		return nil
	}

	docs, err := repo.SemanticSearch(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("semantic search: %w", err)
	}
	printSummaries(cmd, docs)
	return nil
}
