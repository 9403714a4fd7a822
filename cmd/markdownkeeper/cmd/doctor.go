package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/L3DigitalNet/markdownkeeper/internal/linkcheck"
)

func newDoctorCmd() *cobra.Command {
	var checkExternal bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate links across the indexed corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), cmd, checkExternal)
		},
	}
	cmd.Flags().BoolVar(&checkExternal, "check-external", false, "also HEAD-check external links (rate-limited)")
	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, checkExternal bool) error {
	cfg := loadConfig()

	repo, _, closeDB, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	docs, err := repo.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	var links []linkcheck.Link
	type owner struct {
		docPath string
	}
	var owners []owner

	for _, summary := range docs {
		detail, err := repo.GetDocument(ctx, summary.ID, false, 0, "")
		if err != nil || detail == nil {
			continue
		}
		sourceDir := filepath.Dir(detail.Path)
		for _, l := range detail.Links {
			links = append(links, linkcheck.Link{
				Target:     l.Target,
				SourceDir:  sourceDir,
				IsExternal: l.IsExternal,
			})
			owners = append(owners, owner{docPath: detail.Path})
		}
	}

	validator := linkcheck.New(linkcheck.Options{CheckExternal: checkExternal})
	results, err := validator.ValidateAll(ctx, links)
	if err != nil {
		return fmt.Errorf("validate links: %w", err)
	}

	w := cmd.OutOrStdout()
	broken := 0
	for i, res := range results {
		if res.Status == linkcheck.StatusBroken {
			broken++
			fmt.Fprintf(w, "BROKEN  %s -> %s\n", owners[i].docPath, res.Target)
		}
	}
	fmt.Fprintf(w, "%d links checked, %d broken\n", len(results), broken)

	if broken > 0 {
		return fmt.Errorf("%d broken links found", broken)
	}
	return nil
}
