// Package repository implements the document store's public API: upsert,
// delete, read, lexical search, concept lookup, the hybrid semantic
// ranker, embedding maintenance, and the evaluation/benchmark/stats
// operations that sit on top of the embedded SQLite store.
package repository

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/L3DigitalNet/markdownkeeper/internal/embed"
	"github.com/L3DigitalNet/markdownkeeper/internal/errs"
	"github.com/L3DigitalNet/markdownkeeper/internal/parser"
	"github.com/L3DigitalNet/markdownkeeper/internal/store"
)

const timeLayout = time.RFC3339Nano

// Repository is the single entry point for all document reads and writes.
// It owns the embedding provider and an optional in-process front cache;
// the authoritative cache is always the SQLite query_cache table.
type Repository struct {
	db       *store.DB
	embedder embed.Embedder
	front    *lru.Cache[string, []int64]
	now      func() time.Time
}

// Option configures a Repository at construction time.
type Option func(*Repository)

// WithClock overrides the repository's notion of "now", for deterministic
// tests of the freshness bonus and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithFrontCacheSize overrides the in-process LRU front-cache capacity
// placed ahead of the authoritative SQLite query_cache table.
func WithFrontCacheSize(size int) Option {
	return func(r *Repository) {
		if size <= 0 {
			return
		}
		c, err := lru.New[string, []int64](size)
		if err == nil {
			r.front = c
		}
	}
}

// New constructs a Repository over db using embedder for vector
// generation.
func New(db *store.DB, embedder embed.Embedder, opts ...Option) *Repository {
	front, _ := lru.New[string, []int64](256)
	r := &Repository{db: db, embedder: embedder, front: front, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) timestamp() string {
	return r.now().UTC().Format(timeLayout)
}

// DocumentSummary is a document projection without body, chunks, or
// vectors, returned from list/search operations.
type DocumentSummary struct {
	ID            int64
	Path          string
	Title         string
	Summary       string
	Category      string
	TokenEstimate int
	UpdatedAt     time.Time
}

// DocumentDetail is the full projection returned by GetDocument.
type DocumentDetail struct {
	DocumentSummary
	ContentHash string
	Content     string
	Headings    []parser.Heading
	Links       []parser.Link
	Tags        []string
	Concepts    []string
}

// Upsert replaces the document at path (creating it if absent) and all
// of its child relations in one transaction, then empties the query
// cache. Returns the document's id.
func (r *Repository) Upsert(ctx context.Context, path string, parsed parser.ParsedDocument) (int64, error) {
	tx, err := r.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Wrap(errs.StorageFatal, "begin upsert transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := r.timestamp()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE path = ?`, path).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents (path, title, summary, category, body, content_hash, token_estimate, model_id, updated_at, processed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			path, parsed.Title, parsed.Summary, nullableString(parsed.Category), parsed.Body,
			parsed.ContentHash, parsed.TokenEstimate, r.embedder.ModelName(), now, now)
		if err != nil {
			return 0, errs.Wrap(errs.StorageFatal, "insert document", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, errs.Wrap(errs.StorageFatal, "read inserted document id", err)
		}
	case err != nil:
		return 0, errs.Wrap(errs.StorageFatal, "lookup document by path", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET title = ?, summary = ?, category = ?, body = ?, content_hash = ?,
				token_estimate = ?, model_id = ?, updated_at = ?, processed_at = ?
			WHERE id = ?`,
			parsed.Title, parsed.Summary, nullableString(parsed.Category), parsed.Body,
			parsed.ContentHash, parsed.TokenEstimate, r.embedder.ModelName(), now, now, id)
		if err != nil {
			return 0, errs.Wrap(errs.StorageFatal, "update document", err)
		}
	}

	if err := r.replaceChildren(ctx, tx, id, parsed, now); err != nil {
		return 0, err
	}

	if err := clearQueryCache(ctx, tx); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.Wrap(errs.StorageFatal, "commit upsert transaction", err)
	}
	r.front.Purge()
	return id, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// replaceChildren deletes and rewrites headings, links, tag edges,
// concept edges, chunks (with per-chunk embeddings), and the document
// embedding for id.
func (r *Repository) replaceChildren(ctx context.Context, tx *sql.Tx, id int64, parsed parser.ParsedDocument, now string) error {
	for _, table := range []string{"headings", "links", "document_tags", "document_concepts", "chunks"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = ?`, table), id); err != nil {
			return errs.Wrap(errs.StorageFatal, "clear "+table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_embeddings WHERE document_id = ?`, id); err != nil {
		return errs.Wrap(errs.StorageFatal, "clear document_embeddings", err)
	}

	for _, h := range parsed.Headings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO headings (document_id, level, heading_text, anchor, position) VALUES (?, ?, ?, ?, ?)`,
			id, h.Level, h.Text, h.Anchor, h.Position); err != nil {
			return errs.Wrap(errs.StorageFatal, "insert heading", err)
		}
	}

	for _, l := range parsed.Links {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO links (document_id, target, is_external, status) VALUES (?, ?, ?, 'unknown')`,
			id, l.Target, boolToInt(l.IsExternal)); err != nil {
			return errs.Wrap(errs.StorageFatal, "insert link", err)
		}
	}

	for _, tag := range parsed.Tags {
		tagID, err := internTag(ctx, tx, strings.ToLower(tag))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO document_tags (document_id, tag_id) VALUES (?, ?)`, id, tagID); err != nil {
			return errs.Wrap(errs.StorageFatal, "link document tag", err)
		}
	}

	for _, concept := range parsed.Concepts {
		conceptID, err := internConcept(ctx, tx, strings.ToLower(concept))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO document_concepts (document_id, concept_id, score) VALUES (?, ?, 1.0)`,
			id, conceptID); err != nil {
			return errs.Wrap(errs.StorageFatal, "link document concept", err)
		}
	}

	for _, c := range parsed.Chunks {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (document_id, chunk_index, heading_path, content, token_count) VALUES (?, ?, ?, ?, ?)`,
			id, c.Index, c.HeadingPath, c.Content, c.TokenCount)
		if err != nil {
			return errs.Wrap(errs.StorageFatal, "insert chunk", err)
		}
		chunkID, err := res.LastInsertId()
		if err != nil {
			return errs.Wrap(errs.StorageFatal, "read inserted chunk id", err)
		}
		vec := r.embedder.Embed(c.Content)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunk_embeddings (chunk_id, model_id, vector, generated_at) VALUES (?, ?, ?, ?)`,
			chunkID, r.embedder.ModelName(), encodeVector(vec), now); err != nil {
			return errs.Wrap(errs.StorageFatal, "insert chunk embedding", err)
		}
	}

	docText := strings.Join([]string{parsed.Title, parsed.Summary, parsed.Category, parsed.Body}, "\n")
	docVec := r.embedder.Embed(docText)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_embeddings (document_id, model_id, vector, generated_at) VALUES (?, ?, ?, ?)`,
		id, r.embedder.ModelName(), encodeVector(docVec), now); err != nil {
		return errs.Wrap(errs.StorageFatal, "insert document embedding", err)
	}

	return nil
}

func internTag(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	return internNamed(ctx, tx, "tags", name)
}

func internConcept(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	return internNamed(ctx, tx, "concepts", name)
}

func internNamed(ctx context.Context, tx *sql.Tx, table, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %s (name) VALUES (?)`, table), name); err != nil {
		return 0, errs.Wrap(errs.StorageFatal, "intern "+table, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE name = ?`, table), name).Scan(&id); err != nil {
		return 0, errs.Wrap(errs.StorageFatal, "lookup interned "+table, err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DeleteByPath removes the document row at path, cascading all child
// relations, and empties the query cache. Returns whether a row was
// removed.
func (r *Repository) DeleteByPath(ctx context.Context, path string) (bool, error) {
	tx, err := r.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return false, errs.Wrap(errs.StorageFatal, "begin delete transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return false, errs.Wrap(errs.StorageFatal, "delete document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.StorageFatal, "read delete row count", err)
	}

	if err := clearQueryCache(ctx, tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, errs.Wrap(errs.StorageFatal, "commit delete transaction", err)
	}
	r.front.Purge()
	return n > 0, nil
}

func clearQueryCache(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM query_cache`); err != nil {
		return errs.Wrap(errs.StorageFatal, "clear query cache", err)
	}
	return nil
}

// ListDocuments returns every document summary ordered by updated-at
// descending.
func (r *Repository) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	rows, err := r.db.Conn.QueryContext(ctx, `
		SELECT id, path, title, summary, IFNULL(category, ''), token_estimate, updated_at
		FROM documents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "list documents", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]DocumentSummary, error) {
	var out []DocumentSummary
	for rows.Next() {
		var (
			s         DocumentSummary
			updatedAt string
		)
		if err := rows.Scan(&s.ID, &s.Path, &s.Title, &s.Summary, &s.Category, &s.TokenEstimate, &updatedAt); err != nil {
			return nil, errs.Wrap(errs.StorageTransient, "scan document summary", err)
		}
		s.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetDocument reads document id, its headings (by position), links (by
// insertion id), tags and concepts (alpha). If includeContent, the
// returned Content is assembled from chunks honoring section and
// maxTokens exactly per spec: whole chunks are appended until the next
// would overflow, then a word-sliced prefix of that chunk is appended to
// exactly fill the remaining budget. Returns (nil, nil) if id does not
// exist.
func (r *Repository) GetDocument(ctx context.Context, id int64, includeContent bool, maxTokens int, section string) (*DocumentDetail, error) {
	var (
		d           DocumentDetail
		updatedAt   string
		category    sql.NullString
	)
	err := r.db.Conn.QueryRowContext(ctx, `
		SELECT id, path, title, summary, category, content_hash, token_estimate, updated_at
		FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.Path, &d.Title, &d.Summary, &category, &d.ContentHash, &d.TokenEstimate, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, errs.Wrap(errs.StorageTransient, "lookup document", err)
	}
	d.Category = category.String
	d.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

	if d.Headings, err = r.loadHeadings(ctx, id); err != nil {
		return nil, err
	}
	if d.Links, err = r.loadLinks(ctx, id); err != nil {
		return nil, err
	}
	if d.Tags, err = r.loadTags(ctx, id); err != nil {
		return nil, err
	}
	if d.Concepts, err = r.loadConcepts(ctx, id); err != nil {
		return nil, err
	}

	if includeContent {
		content, err := r.assembleContent(ctx, id, maxTokens, section)
		if err != nil {
			return nil, err
		}
		d.Content = content
	}

	return &d, nil
}

func (r *Repository) loadHeadings(ctx context.Context, id int64) ([]parser.Heading, error) {
	rows, err := r.db.Conn.QueryContext(ctx,
		`SELECT level, heading_text, anchor, position FROM headings WHERE document_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "load headings", err)
	}
	defer rows.Close()
	var out []parser.Heading
	for rows.Next() {
		var h parser.Heading
		if err := rows.Scan(&h.Level, &h.Text, &h.Anchor, &h.Position); err != nil {
			return nil, errs.Wrap(errs.StorageTransient, "scan heading", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repository) loadLinks(ctx context.Context, id int64) ([]parser.Link, error) {
	rows, err := r.db.Conn.QueryContext(ctx,
		`SELECT target, is_external FROM links WHERE document_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "load links", err)
	}
	defer rows.Close()
	var out []parser.Link
	for rows.Next() {
		var (
			l          parser.Link
			isExternal int
		)
		if err := rows.Scan(&l.Target, &isExternal); err != nil {
			return nil, errs.Wrap(errs.StorageTransient, "scan link", err)
		}
		l.IsExternal = isExternal != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) loadTags(ctx context.Context, id int64) ([]string, error) {
	return r.loadJoinedNames(ctx, id, "tags", "document_tags", "tag_id")
}

func (r *Repository) loadConcepts(ctx context.Context, id int64) ([]string, error) {
	return r.loadJoinedNames(ctx, id, "concepts", "document_concepts", "concept_id")
}

func (r *Repository) loadJoinedNames(ctx context.Context, id int64, table, joinTable, joinCol string) ([]string, error) {
	q := fmt.Sprintf(`
		SELECT t.name FROM %s t
		JOIN %s j ON j.%s = t.id
		WHERE j.document_id = ? ORDER BY t.name ASC`, table, joinTable, joinCol)
	rows, err := r.db.Conn.QueryContext(ctx, q, id)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "load "+table, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.StorageTransient, "scan "+table, err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// assembleContent joins chunk content for document id filtered by section
// (a case-insensitive substring of heading_path; empty means all chunks),
// honoring maxTokens as a running word budget. maxTokens <= 0 means
// unbounded.
func (r *Repository) assembleContent(ctx context.Context, id int64, maxTokens int, section string) (string, error) {
	rows, err := r.db.Conn.QueryContext(ctx,
		`SELECT heading_path, content FROM chunks WHERE document_id = ? ORDER BY chunk_index ASC`, id)
	if err != nil {
		return "", errs.Wrap(errs.StorageTransient, "load chunks", err)
	}
	defer rows.Close()

	type row struct{ headingPath, content string }
	var chunks []row
	for rows.Next() {
		var c row
		if err := rows.Scan(&c.headingPath, &c.content); err != nil {
			return "", errs.Wrap(errs.StorageTransient, "scan chunk", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	sectionLower := strings.ToLower(strings.TrimSpace(section))
	var selected []row
	for _, c := range chunks {
		if sectionLower != "" && !strings.Contains(strings.ToLower(c.headingPath), sectionLower) {
			continue
		}
		selected = append(selected, c)
	}

	if maxTokens <= 0 {
		parts := make([]string, len(selected))
		for i, c := range selected {
			parts[i] = c.content
		}
		return strings.Join(parts, "\n\n"), nil
	}

	var parts []string
	budget := maxTokens
	for _, c := range selected {
		words := strings.Fields(c.content)
		if len(words) <= budget {
			parts = append(parts, c.content)
			budget -= len(words)
			if budget <= 0 {
				break
			}
			continue
		}
		if budget > 0 {
			parts = append(parts, strings.Join(words[:budget], " "))
		}
		budget = 0
		break
	}
	return strings.Join(parts, "\n\n"), nil
}

// Search performs a lexical substring match of the trimmed, lowercased
// query against title, summary, and path, ordered by updated-at
// descending, capped at limit.
func (r *Repository) Search(ctx context.Context, query string, limit int) ([]DocumentSummary, error) {
	trimmed := strings.TrimSpace(query)
	if limit <= 0 {
		limit = 1
	}
	like := "%" + trimmed + "%"
	rows, err := r.db.Conn.QueryContext(ctx, `
		SELECT id, path, title, summary, IFNULL(category, ''), token_estimate, updated_at
		FROM documents
		WHERE title LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\' OR path LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC
		LIMIT ?`, like, like, like, limit)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "lexical search", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// FindByConcept returns documents whose concept set contains the exact
// lowercased concept name, capped at limit.
func (r *Repository) FindByConcept(ctx context.Context, concept string, limit int) ([]DocumentSummary, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := r.db.Conn.QueryContext(ctx, `
		SELECT d.id, d.path, d.title, d.summary, IFNULL(d.category, ''), d.token_estimate, d.updated_at
		FROM documents d
		JOIN document_concepts dc ON dc.document_id = d.id
		JOIN concepts c ON c.id = dc.concept_id
		WHERE c.name = ?
		ORDER BY d.updated_at DESC
		LIMIT ?`, strings.ToLower(concept), limit)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "find by concept", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float64 {
	n := len(buf) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}
