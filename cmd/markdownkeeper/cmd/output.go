package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/L3DigitalNet/markdownkeeper/internal/repository"
)

func printSummaries(cmd *cobra.Command, docs []repository.DocumentSummary) {
	w := cmd.OutOrStdout()
	if len(docs) == 0 {
		fmt.Fprintln(w, "no matching documents")
		return
	}
	for _, d := range docs {
		fmt.Fprintf(w, "%d\t%s\t%s\n", d.ID, d.Path, d.Title)
	}
}
