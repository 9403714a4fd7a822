package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	var includeContent bool
	var maxTokens int
	var section string

	cmd := &cobra.Command{
		Use:   "get <document-id>",
		Short: "Fetch a single document by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fatalf("invalid document id %q: %v", args[0], err)
			}
			return runGet(cmd.Context(), cmd, id, includeContent, maxTokens, section)
		},
	}
	cmd.Flags().BoolVar(&includeContent, "content", false, "include assembled chunk content")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "word budget for assembled content (0 = unbounded)")
	cmd.Flags().StringVar(&section, "section", "", "only include chunks whose heading path contains this text")
	return cmd
}

func runGet(ctx context.Context, cmd *cobra.Command, id int64, includeContent bool, maxTokens int, section string) error {
	cfg := loadConfig()

	repo, _, closeDB, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	doc, err := repo.GetDocument(ctx, id, includeContent, maxTokens, section)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "document %d not found\n", id)
		cmd.SilenceUsage = true
		return errNotFound
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Title:    %s\n", doc.Title)
	fmt.Fprintf(w, "Path:     %s\n", doc.Path)
	fmt.Fprintf(w, "Category: %s\n", doc.Category)
	fmt.Fprintf(w, "Tags:     %v\n", doc.Tags)
	fmt.Fprintf(w, "Concepts: %v\n", doc.Concepts)
	if includeContent {
		fmt.Fprintf(w, "\n%s\n", doc.Content)
	}
	return nil
}

var errNotFound = fmt.Errorf("not found")
