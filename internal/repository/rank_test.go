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

func TestSemanticSearch_EmptyQueryReturnsNil(t *testing.T) {
	repo, _ := newTestRepo(t)
	results, err := repo.SemanticSearch(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSemanticSearch_RanksLexicallyClosestDocumentFirst(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "kubernetes.md", parser.Parse("# Kubernetes Scheduler\nkubernetes cluster scheduler handles pod placement"))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "baking.md", parser.Parse("# Sourdough Bread\nflour water salt yeast fermentation"))
	require.NoError(t, err)

	results, err := repo.SemanticSearch(ctx, "kubernetes scheduler", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "kubernetes.md", results[0].Path)
}

func TestSemanticSearch_FallsBackToLexicalWhenNoCandidateScores(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "fallback.db"))
	require.NoError(t, err)
	defer db.Close()

	// Single-character tokens are dropped by the embedder (min length 2) and
	// can't match any extracted concept (min length 3), so with the clock
	// pinned away from the document's year every scoring term is exactly 0.
	current := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := New(db, embed.NewTokenHashEmbedder(), WithClock(func() time.Time { return current }))
	ctx := context.Background()

	_, err = repo.Upsert(ctx, "unrelated.md", parser.Parse("# Kubernetes Scheduler\nkubernetes cluster scheduler handles pods reliably"))
	require.NoError(t, err)

	current = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	results, err := repo.SemanticSearch(ctx, "z q", 5)
	require.NoError(t, err)
	assert.Empty(t, results, "no lexical match for 'z q' either, lexical fallback should also come up empty")
}

func TestSemanticSearch_CachesResultAcrossIdenticalCalls(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "doc.md", parser.Parse("# Budget\nbudget planning numbers"))
	require.NoError(t, err)

	first, err := repo.SemanticSearch(ctx, "budget", 5)
	require.NoError(t, err)

	var cacheRows int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM query_cache`).Scan(&cacheRows))
	assert.Equal(t, 1, cacheRows)

	second, err := repo.SemanticSearch(ctx, "budget", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSemanticSearch_CacheInvalidatedByWrite(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "doc.md", parser.Parse("# Budget\nbudget planning numbers"))
	require.NoError(t, err)
	_, err = repo.SemanticSearch(ctx, "budget", 5)
	require.NoError(t, err)

	_, err = repo.Upsert(ctx, "other.md", parser.Parse("# Other\nunrelated text"))
	require.NoError(t, err)

	var cacheRows int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM query_cache`).Scan(&cacheRows))
	assert.Zero(t, cacheRows, "write should clear query_cache")
}

func TestQueryHash_DependsOnQueryAndLimit(t *testing.T) {
	a := queryHash("budget", 5)
	b := queryHash("budget", 10)
	c := queryHash("other", 5)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, queryHash("budget", 5))
}

func TestTokenOverlap_ComputesFractionOfQueryTokensPresent(t *testing.T) {
	qt := tokenSet("alpha beta gamma")
	dt := tokenSet("alpha beta delta")
	assert.InDelta(t, 2.0/3.0, tokenOverlap(qt, dt), 1e-9)
}

func TestTokenOverlap_EmptyQueryIsZero(t *testing.T) {
	assert.Zero(t, tokenOverlap(map[string]struct{}{}, tokenSet("alpha")))
}

func TestScoreDocument_AppliesFreshnessBonusForCurrentYear(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := New(db, embed.NewTokenHashEmbedder())
	d := rankedDocument{
		summary: DocumentSummary{UpdatedAt: repo.now().UTC()},
	}
	qv := repo.embedder.Embed("x")
	score := repo.scoreDocument(qv, tokenSet(""), d, repo.now().UTC().Format("2006"))
	assert.InDelta(t, 0.05, score, 1e-9)
}
