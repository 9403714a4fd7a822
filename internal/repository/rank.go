package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/L3DigitalNet/markdownkeeper/internal/embed"
	"github.com/L3DigitalNet/markdownkeeper/internal/errs"
)

// rankedDocument holds the fields SemanticSearch's scoring function needs
// for one candidate document.
type rankedDocument struct {
	summary   DocumentSummary
	bodyWords map[string]struct{}
	vector    []float64
	chunkVecs [][]float64
	concepts  map[string]struct{}
	score     float64
}

// SemanticSearch ranks every document against query by a weighted
// combination of document-vector cosine similarity, best chunk-vector
// similarity, lexical token overlap, concept match, and a freshness
// bonus, with bounded result caching. An empty normalized query returns
// no results. Identical consecutive calls with no intervening write
// return the same ordered result.
func (r *Repository) SemanticSearch(ctx context.Context, query string, limit int) ([]DocumentSummary, error) {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return nil, nil
	}
	if limit < 1 {
		limit = 1
	}

	hash := queryHash(normalized, limit)

	if ids, ok := r.front.Get(hash); ok {
		return r.fetchByIDsPreservingOrder(ctx, ids)
	}

	if ids, err := r.cacheLookup(ctx, hash); err != nil {
		return nil, err
	} else if ids != nil {
		r.front.Add(hash, ids)
		return r.fetchByIDsPreservingOrder(ctx, ids)
	}

	candidates, err := r.scoreAllDocuments(ctx, normalized)
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.summary.UpdatedAt.Equal(b.summary.UpdatedAt) {
			return a.summary.UpdatedAt.After(b.summary.UpdatedAt)
		}
		return a.summary.ID < b.summary.ID
	})

	top := limit
	if top > len(candidates) {
		top = len(candidates)
	}
	candidates = candidates[:top]

	if len(candidates) == 0 {
		results, err := r.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, len(results))
		for i, d := range results {
			ids[i] = d.ID
		}
		if err := r.storeCache(ctx, hash, normalized, ids); err != nil {
			return nil, err
		}
		r.front.Add(hash, ids)
		return results, nil
	}

	results := make([]DocumentSummary, len(candidates))
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		results[i] = c.summary
		ids[i] = c.summary.ID
	}
	if err := r.storeCache(ctx, hash, normalized, ids); err != nil {
		return nil, err
	}
	r.front.Add(hash, ids)
	return results, nil
}

func queryHash(normalizedQuery string, limit int) string {
	sum := sha256.Sum256([]byte("semantic:" + normalizedQuery + ":" + strconv.Itoa(limit)))
	return hex.EncodeToString(sum[:])
}

func (r *Repository) cacheLookup(ctx context.Context, hash string) ([]int64, error) {
	var resultIDs string
	err := r.db.Conn.QueryRowContext(ctx,
		`SELECT result_ids FROM query_cache WHERE query_hash = ?`, hash).Scan(&resultIDs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, errs.Wrap(errs.StorageTransient, "lookup query cache", err)
	}

	var ids []int64
	if err := json.Unmarshal([]byte(resultIDs), &ids); err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "decode cached result ids", err)
	}

	now := r.timestamp()
	if _, err := r.db.Conn.ExecContext(ctx,
		`UPDATE query_cache SET last_accessed = ?, hit_count = hit_count + 1 WHERE query_hash = ?`,
		now, hash); err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "update query cache hit", err)
	}
	return ids, nil
}

func (r *Repository) storeCache(ctx context.Context, hash, queryText string, ids []int64) error {
	encoded, err := json.Marshal(ids)
	if err != nil {
		return errs.Wrap(errs.StorageTransient, "encode result ids", err)
	}
	now := r.timestamp()
	_, err = r.db.Conn.ExecContext(ctx, `
		INSERT INTO query_cache (query_hash, query_text, result_ids, created_at, last_accessed, hit_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(query_hash) DO UPDATE SET
			query_text = excluded.query_text,
			result_ids = excluded.result_ids,
			created_at = excluded.created_at,
			last_accessed = excluded.last_accessed,
			hit_count = 0`,
		hash, queryText, string(encoded), now, now)
	if err != nil {
		return errs.Wrap(errs.StorageTransient, "store query cache entry", err)
	}
	return nil
}

func (r *Repository) fetchByIDsPreservingOrder(ctx context.Context, ids []int64) ([]DocumentSummary, error) {
	out := make([]DocumentSummary, 0, len(ids))
	for _, id := range ids {
		var (
			s         DocumentSummary
			category  sql.NullString
			updatedAt string
		)
		err := r.db.Conn.QueryRowContext(ctx, `
			SELECT id, path, title, summary, category, token_estimate, updated_at
			FROM documents WHERE id = ?`, id).
			Scan(&s.ID, &s.Path, &s.Title, &s.Summary, &category, &s.TokenEstimate, &updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.StorageTransient, "fetch cached document", err)
		}
		s.Category = category.String
		s.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, s)
	}
	return out, nil
}

// scoreAllDocuments computes the hybrid score for every document, keeping
// only those with score > 0.
func (r *Repository) scoreAllDocuments(ctx context.Context, normalizedQuery string) ([]rankedDocument, error) {
	qv := r.embedder.Embed(normalizedQuery)
	qt := tokenSet(normalizedQuery)
	currentYear := r.now().UTC().Format("2006")

	rows, err := r.db.Conn.QueryContext(ctx, `
		SELECT id, path, title, summary, IFNULL(category, ''), body, token_estimate, updated_at
		FROM documents`)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "scan documents for ranking", err)
	}
	defer rows.Close()

	var docs []rankedDocument
	for rows.Next() {
		var (
			s         DocumentSummary
			body      string
			updatedAt string
		)
		if err := rows.Scan(&s.ID, &s.Path, &s.Title, &s.Summary, &s.Category, &body, &s.TokenEstimate, &updatedAt); err != nil {
			return nil, errs.Wrap(errs.StorageTransient, "scan document for ranking", err)
		}
		s.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		docs = append(docs, rankedDocument{summary: s, bodyWords: tokenSet(body)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range docs {
		id := docs[i].summary.ID

		vec, err := r.documentVector(ctx, id)
		if err != nil {
			return nil, err
		}
		docs[i].vector = vec

		chunkVecs, err := r.chunkVectors(ctx, id)
		if err != nil {
			return nil, err
		}
		docs[i].chunkVecs = chunkVecs

		concepts, err := r.loadConcepts(ctx, id)
		if err != nil {
			return nil, err
		}
		conceptSet := make(map[string]struct{}, len(concepts))
		for _, c := range concepts {
			conceptSet[c] = struct{}{}
		}
		docs[i].concepts = conceptSet
	}

	var kept []rankedDocument
	for _, d := range docs {
		score := r.scoreDocument(qv, qt, d, currentYear)
		if score <= 0 {
			continue
		}
		d.score = score
		kept = append(kept, d)
	}
	return kept, nil
}

func (r *Repository) scoreDocument(qv []float64, qt map[string]struct{}, d rankedDocument, currentYear string) float64 {
	vec := embed.CosineSimilarity(qv, d.vector)

	var chunk float64
	for _, cv := range d.chunkVecs {
		if sim := embed.CosineSimilarity(qv, cv); sim > chunk {
			chunk = sim
		}
	}

	lex := tokenOverlap(qt, d.bodyWords)

	concept := 0.0
	for tok := range qt {
		if _, ok := d.concepts[tok]; ok {
			concept = 1
			break
		}
	}

	fresh := 0.0
	if strings.HasPrefix(d.summary.UpdatedAt.UTC().Format("2006-01-02"), currentYear) {
		fresh = 0.05
	}

	return 0.45*vec + 0.30*chunk + 0.20*lex + 0.05*concept + fresh
}

func (r *Repository) documentVector(ctx context.Context, id int64) ([]float64, error) {
	var blob []byte
	err := r.db.Conn.QueryRowContext(ctx, `SELECT vector FROM document_embeddings WHERE document_id = ?`, id).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, errs.Wrap(errs.StorageTransient, "load document vector", err)
	}
	return decodeVector(blob), nil
}

func (r *Repository) chunkVectors(ctx context.Context, id int64) ([][]float64, error) {
	rows, err := r.db.Conn.QueryContext(ctx, `
		SELECT ce.vector FROM chunk_embeddings ce
		JOIN chunks c ON c.id = ce.chunk_id
		WHERE c.document_id = ?
		ORDER BY c.chunk_index ASC`, id)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "load chunk vectors", err)
	}
	defer rows.Close()

	var out [][]float64
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, errs.Wrap(errs.StorageTransient, "scan chunk vector", err)
		}
		out = append(out, decodeVector(blob))
	}
	return out, rows.Err()
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

func tokenOverlap(qt, dt map[string]struct{}) float64 {
	if len(qt) == 0 {
		return 0
	}
	var overlap int
	for tok := range qt {
		if _, ok := dt[tok]; ok {
			overlap++
		}
	}
	denom := len(qt)
	if denom < 1 {
		denom = 1
	}
	return float64(overlap) / float64(denom)
}
