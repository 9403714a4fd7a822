package repository

import (
	"context"
	"os"

	"github.com/L3DigitalNet/markdownkeeper/internal/errs"
	"github.com/L3DigitalNet/markdownkeeper/internal/parser"
)

// ProcessUpsert reads path's current bytes, parses them, and upserts the
// result. It satisfies queue.Processor so the drainer can call it without
// depending on the repository package directly.
func (r *Repository) ProcessUpsert(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.StorageTransient, "read file for upsert", err)
	}
	parsed := parser.Parse(string(data))
	_, err = r.Upsert(ctx, path, parsed)
	return err
}

// ProcessDelete satisfies queue.Processor by delegating to DeleteByPath.
func (r *Repository) ProcessDelete(ctx context.Context, path string) (bool, error) {
	return r.DeleteByPath(ctx, path)
}
