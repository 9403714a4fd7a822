package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L3DigitalNet/markdownkeeper/internal/embed"
	"github.com/L3DigitalNet/markdownkeeper/internal/parser"
	"github.com/L3DigitalNet/markdownkeeper/internal/store"
)

func newTestRepo(t *testing.T) (*Repository, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, embed.NewTokenHashEmbedder()), db
}

func TestUpsert_CreatesDocumentAndChildRelations(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	text := "---\ntags: [go, sqlite]\n---\n# Budget\none two three four five six\n\n[docs](./other.md)\n"
	parsed := parser.Parse(text)

	id, err := repo.Upsert(ctx, "doc.md", parsed)
	require.NoError(t, err)
	assert.Positive(t, id)

	var headingCount, linkCount, chunkCount int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM headings WHERE document_id = ?`, id).Scan(&headingCount))
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM links WHERE document_id = ?`, id).Scan(&linkCount))
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, id).Scan(&chunkCount))
	assert.Equal(t, 1, headingCount)
	assert.Equal(t, 1, linkCount)
	assert.Equal(t, 2, chunkCount)

	var embCount int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM document_embeddings WHERE document_id = ?`, id).Scan(&embCount))
	assert.Equal(t, 1, embCount)
}

func TestUpsert_ReplacesChildRelationsOnSecondCall(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	id1, err := repo.Upsert(ctx, "doc.md", parser.Parse("# First\nbody one"))
	require.NoError(t, err)

	id2, err := repo.Upsert(ctx, "doc.md", parser.Parse("# Second\nbody two\n\n## Sub\nmore"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same path should update the existing row, not insert a new one")

	var headingCount int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM headings WHERE document_id = ?`, id1).Scan(&headingCount))
	assert.Equal(t, 2, headingCount)

	var title string
	require.NoError(t, db.Conn.QueryRow(`SELECT title FROM documents WHERE id = ?`, id1).Scan(&title))
	assert.Equal(t, "Second", title)
}

func TestUpsert_ClearsQueryCache(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	_, err := db.Conn.Exec(`INSERT INTO query_cache (query_hash, query_text, result_ids, created_at, last_accessed, hit_count)
		VALUES ('h', 'q', '[]', 'now', 'now', 0)`)
	require.NoError(t, err)

	_, err = repo.Upsert(ctx, "doc.md", parser.Parse("# Title\nbody"))
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM query_cache`).Scan(&count))
	assert.Zero(t, count)
}

func TestDeleteByPath_RemovesDocumentAndClearsCache(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "doc.md", parser.Parse("# Title\nbody"))
	require.NoError(t, err)

	_, err = db.Conn.Exec(`INSERT INTO query_cache (query_hash, query_text, result_ids, created_at, last_accessed, hit_count)
		VALUES ('h', 'q', '[]', 'now', 'now', 0)`)
	require.NoError(t, err)

	deleted, err := repo.DeleteByPath(ctx, "doc.md")
	require.NoError(t, err)
	assert.True(t, deleted)

	var docCount, cacheCount, headingCount int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&docCount))
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM query_cache`).Scan(&cacheCount))
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM headings`).Scan(&headingCount))
	assert.Zero(t, docCount)
	assert.Zero(t, cacheCount)
	assert.Zero(t, headingCount, "cascade delete should remove child headings")
}

func TestDeleteByPath_ReturnsFalseWhenMissing(t *testing.T) {
	repo, _ := newTestRepo(t)
	deleted, err := repo.DeleteByPath(context.Background(), "missing.md")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestGetDocument_ReturnsNilWhenMissing(t *testing.T) {
	repo, _ := newTestRepo(t)
	detail, err := repo.GetDocument(context.Background(), 9999, false, 0, "")
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestGetDocument_AssemblesContentWithinWordBudget(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Upsert(ctx, "doc.md", parser.Parse("# Budget\none two three four five six"))
	require.NoError(t, err)

	detail, err := repo.GetDocument(ctx, id, true, 3, "")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, "# Budget one", detail.Content)
}

func TestGetDocument_FiltersBySection(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Upsert(ctx, "doc.md", parser.Parse("# Alpha\nalpha body here\n\n## Beta\nbeta body here"))
	require.NoError(t, err)

	// Every chunk's heading path is the document's first heading, matched
	// case-insensitively, so "ALPHA" selects both chunks and "beta" none.
	detail, err := repo.GetDocument(ctx, id, true, 0, "ALPHA")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Contains(t, detail.Content, "alpha body here")
	assert.Contains(t, detail.Content, "beta body here")

	detail, err = repo.GetDocument(ctx, id, true, 0, "beta")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.NotContains(t, detail.Content, "alpha body here")
}

func TestSearch_MatchesTitleCaseInsensitively(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "doc.md", parser.Parse("# Budget Planning\nbody"))
	require.NoError(t, err)

	results, err := repo.Search(ctx, "budget", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Budget Planning", results[0].Title)
}

func TestFindByConcept_MatchesExactLowercasedName(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "doc.md", parser.Parse("# Title\nThe Kubernetes cluster scheduler handles pods reliably today."))
	require.NoError(t, err)

	results, err := repo.FindByConcept(ctx, "Kubernetes", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestWithClock_ControlsUpdatedAt(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	db, err := store.Open(filepath.Join(t.TempDir(), "clock.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := New(db, embed.NewTokenHashEmbedder(), WithClock(func() time.Time { return fixed }))

	id, err := repo.Upsert(context.Background(), "doc.md", parser.Parse("# Title\nbody"))
	require.NoError(t, err)

	detail, err := repo.GetDocument(context.Background(), id, false, 0, "")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.True(t, detail.UpdatedAt.Equal(fixed))
}

func encodeVectorTestHelper(v []float64) []byte { return encodeVector(v) }

func TestEncodeDecodeVector_RoundTrips(t *testing.T) {
	v := []float64{0.5, -0.25, 1.0, 0}
	buf := encodeVectorTestHelper(v)
	got := decodeVector(buf)
	require.Len(t, got, len(v))
	for i := range v {
		assert.InDelta(t, v[i], got[i], 1e-12)
	}
}
