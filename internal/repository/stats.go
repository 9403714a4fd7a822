package repository

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/L3DigitalNet/markdownkeeper/internal/errs"
	"github.com/L3DigitalNet/markdownkeeper/internal/queue"
)

// RegenerateEmbeddings recomputes and stores each document's embedding
// from (title + summary + category + body), returning the number of
// documents updated. The vectors always come from the repository's own
// embedder; model is only the identifier recorded with them, and an
// empty model records the embedder's ModelName.
func (r *Repository) RegenerateEmbeddings(ctx context.Context, model string) (int, error) {
	rows, err := r.db.Conn.QueryContext(ctx,
		`SELECT id, title, summary, IFNULL(category, ''), body FROM documents`)
	if err != nil {
		return 0, errs.Wrap(errs.StorageTransient, "scan documents for regeneration", err)
	}

	type doc struct {
		id                                 int64
		title, summary, category, body     string
	}
	var docs []doc
	for rows.Next() {
		var d doc
		if err := rows.Scan(&d.id, &d.title, &d.summary, &d.category, &d.body); err != nil {
			rows.Close()
			return 0, errs.Wrap(errs.StorageTransient, "scan document for regeneration", err)
		}
		docs = append(docs, d)
	}
	rowErr := rows.Err()
	rows.Close()
	if rowErr != nil {
		return 0, rowErr
	}

	modelName := model
	if modelName == "" {
		modelName = r.embedder.ModelName()
	}

	now := r.timestamp()
	count := 0
	for _, d := range docs {
		text := strings.Join([]string{d.title, d.summary, d.category, d.body}, "\n")
		vec := r.embedder.Embed(text)
		_, err := r.db.Conn.ExecContext(ctx, `
			INSERT INTO document_embeddings (document_id, model_id, vector, generated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(document_id) DO UPDATE SET
				model_id = excluded.model_id,
				vector = excluded.vector,
				generated_at = excluded.generated_at`,
			d.id, modelName, encodeVector(vec), now)
		if err != nil {
			return count, errs.Wrap(errs.StorageTransient, "upsert regenerated embedding", err)
		}
		if _, err := r.db.Conn.ExecContext(ctx, `UPDATE documents SET model_id = ? WHERE id = ?`, modelName, d.id); err != nil {
			return count, errs.Wrap(errs.StorageTransient, "record regenerated model id", err)
		}
		count++
	}

	if _, err := r.db.Conn.ExecContext(ctx, `DELETE FROM query_cache`); err != nil {
		return count, errs.Wrap(errs.StorageTransient, "clear query cache after regeneration", err)
	}
	r.front.Purge()
	return count, nil
}

// EmbeddingCoverage reports counts of documents, embedded documents,
// chunks, and embedded chunks.
type EmbeddingCoverage struct {
	Documents        int
	EmbeddedDocuments int
	Chunks           int
	EmbeddedChunks   int
}

// EmbeddingCoverage computes the current embedding coverage stats.
func (r *Repository) EmbeddingCoverage(ctx context.Context) (EmbeddingCoverage, error) {
	var c EmbeddingCoverage
	if err := r.db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&c.Documents); err != nil {
		return c, errs.Wrap(errs.StorageTransient, "count documents", err)
	}
	if err := r.db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_embeddings`).Scan(&c.EmbeddedDocuments); err != nil {
		return c, errs.Wrap(errs.StorageTransient, "count document embeddings", err)
	}
	if err := r.db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&c.Chunks); err != nil {
		return c, errs.Wrap(errs.StorageTransient, "count chunks", err)
	}
	if err := r.db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_embeddings`).Scan(&c.EmbeddedChunks); err != nil {
		return c, errs.Wrap(errs.StorageTransient, "count chunk embeddings", err)
	}
	return c, nil
}

// PrecisionCase is one evaluation case for EvaluatePrecision.
type PrecisionCase struct {
	Query      string
	ExpectedID []int64
}

// PrecisionCaseResult is the per-case detail of a precision evaluation.
type PrecisionCaseResult struct {
	Query     string
	Precision float64
}

// PrecisionReport is the result of EvaluatePrecision.
type PrecisionReport struct {
	Mean  float64
	Cases []PrecisionCaseResult
}

// EvaluatePrecision runs SemanticSearch(case.Query, k) for each case and
// computes |expected ∩ top-k| / k, returning the mean and per-case detail.
func (r *Repository) EvaluatePrecision(ctx context.Context, cases []PrecisionCase, k int) (PrecisionReport, error) {
	if k <= 0 {
		k = 1
	}
	var report PrecisionReport
	var sum float64
	for _, c := range cases {
		results, err := r.SemanticSearch(ctx, c.Query, k)
		if err != nil {
			return report, err
		}
		expected := make(map[int64]struct{}, len(c.ExpectedID))
		for _, id := range c.ExpectedID {
			expected[id] = struct{}{}
		}
		var hit int
		for _, d := range results {
			if _, ok := expected[d.ID]; ok {
				hit++
			}
		}
		precision := float64(hit) / float64(k)
		report.Cases = append(report.Cases, PrecisionCaseResult{Query: c.Query, Precision: precision})
		sum += precision
	}
	if len(cases) > 0 {
		report.Mean = sum / float64(len(cases))
	}
	return report, nil
}

// BenchmarkReport is the result of Benchmark.
type BenchmarkReport struct {
	AverageMS float64
	MedianMS  float64
	P95MS     float64
	MaxMS     float64
	Precision PrecisionReport
}

// Benchmark times Iterations calls of SemanticSearch per case using a
// monotonic clock, reporting average/median/95th-percentile/max latency
// in milliseconds, plus the precision report from EvaluatePrecision.
func (r *Repository) Benchmark(ctx context.Context, cases []PrecisionCase, k, iterations int) (BenchmarkReport, error) {
	if iterations <= 0 {
		iterations = 1
	}
	var report BenchmarkReport
	var latencies []float64

	for _, c := range cases {
		for i := 0; i < iterations; i++ {
			start := time.Now()
			if _, err := r.SemanticSearch(ctx, c.Query, k); err != nil {
				return report, err
			}
			latencies = append(latencies, float64(time.Since(start).Microseconds())/1000.0)
		}
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		report.AverageMS = sum / float64(len(latencies))
		report.MedianMS = percentile(latencies, 0.5)
		report.P95MS = percentile95(latencies)
		report.MaxMS = latencies[len(latencies)-1]
	}

	precision, err := r.EvaluatePrecision(ctx, cases, k)
	if err != nil {
		return report, err
	}
	report.Precision = precision
	return report, nil
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// percentile95 uses ceil(0.95 * (n-1)) as the index into sorted latencies,
// exactly as specified.
func percentile95(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(0.95 * float64(len(sorted)-1)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// SystemStats is the payload returned by SystemStats.
type SystemStats struct {
	DocumentCount   int
	LinkCount       int
	QueueCounts     map[queue.Status]int
	QueueLagSeconds float64
	Embedding       EmbeddingCoverage
}

// SystemStats reports document and link counts, queue counts by status,
// queue lag (now minus the oldest queued event's created-at, clamped at
// 0), and embedding coverage.
func (r *Repository) SystemStats(ctx context.Context, q *queue.Queue) (SystemStats, error) {
	var stats SystemStats

	if err := r.db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.DocumentCount); err != nil {
		return stats, errs.Wrap(errs.StorageTransient, "count documents", err)
	}
	if err := r.db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&stats.LinkCount); err != nil {
		return stats, errs.Wrap(errs.StorageTransient, "count links", err)
	}

	counts, err := q.PendingCounts(ctx)
	if err != nil {
		return stats, err
	}
	stats.QueueCounts = counts

	lag, err := q.OldestQueuedAge(ctx, r.now())
	if err != nil {
		return stats, err
	}
	stats.QueueLagSeconds = lag.Seconds()

	coverage, err := r.EmbeddingCoverage(ctx)
	if err != nil {
		return stats, err
	}
	stats.Embedding = coverage

	return stats, nil
}
