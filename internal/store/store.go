// Package store owns the embedded SQLite database: connection setup,
// pragmas, schema creation, and additive migrations. It holds no domain
// logic — that lives in internal/repository.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go driver, no CGO
)

// DB wraps a single-writer SQLite connection.
type DB struct {
	Conn *sql.DB
	path string
}

// Open creates the database file (and parent directory) if needed, enables
// WAL mode and foreign-key enforcement, and runs idempotent schema
// creation and additive migrations.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer discipline: SQLite serializes writers regardless, but a
	// single connection avoids cross-connection lock churn under modernc's
	// pure-Go driver.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	db := &DB{Conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.Conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	path           TEXT NOT NULL UNIQUE,
	title          TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	category       TEXT,
	body           TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	token_estimate INTEGER NOT NULL DEFAULT 1,
	model_id       TEXT,
	updated_at     TEXT NOT NULL,
	processed_at   TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);

CREATE TABLE IF NOT EXISTS headings (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id   INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	level         INTEGER NOT NULL,
	heading_text  TEXT NOT NULL,
	anchor        TEXT NOT NULL,
	position      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_headings_document ON headings(document_id);

CREATE TABLE IF NOT EXISTS links (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id   INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	source_anchor TEXT,
	target        TEXT NOT NULL,
	is_external   INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'unknown',
	checked_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_links_document ON links(document_id);

CREATE TABLE IF NOT EXISTS tags (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS document_tags (
	document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	tag_id      INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (document_id, tag_id)
);

CREATE TABLE IF NOT EXISTS concepts (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS document_concepts (
	document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	concept_id  INTEGER NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
	score       REAL NOT NULL DEFAULT 1.0,
	PRIMARY KEY (document_id, concept_id)
);

CREATE TABLE IF NOT EXISTS chunks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id   INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index   INTEGER NOT NULL,
	heading_path  TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL DEFAULT '',
	token_count   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
	chunk_id    INTEGER PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
	model_id    TEXT NOT NULL,
	vector      BLOB NOT NULL,
	generated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS document_embeddings (
	document_id  INTEGER PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
	model_id     TEXT NOT NULL,
	vector       BLOB NOT NULL,
	generated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS query_cache (
	query_hash   TEXT PRIMARY KEY,
	query_text   TEXT NOT NULL,
	result_ids   TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	last_accessed TEXT NOT NULL,
	hit_count    INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_query_cache_hash ON query_cache(query_hash);

CREATE TABLE IF NOT EXISTS queue_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	path        TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_events_path ON queue_events(path);
CREATE INDEX IF NOT EXISTS idx_queue_events_status_created ON queue_events(status, created_at);
`

func (db *DB) initSchema() error {
	_, err := db.Conn.Exec(schemaDDL)
	return err
}

// tableColumn describes one additive column a migration may need to add.
type tableColumn struct {
	table      string
	column     string
	definition string
}

// additiveColumns lists columns that later revisions of the schema may
// introduce. The schema DDL above already creates them for fresh
// databases; migrate() only backfills them onto a database created by an
// older revision. Columns are never dropped or renamed.
var additiveColumns = []tableColumn{
	{"documents", "model_id", "TEXT"},
}

// migrate adds any column in additiveColumns missing from an existing
// table, by introspecting PRAGMA table_info.
func (db *DB) migrate() error {
	for _, col := range additiveColumns {
		has, err := db.hasColumn(col.table, col.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.table, col.column, col.definition)
		if _, err := db.Conn.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: add column %s.%s: %w", col.table, col.column, err)
		}
	}
	return nil
}

func (db *DB) hasColumn(table, column string) (bool, error) {
	rows, err := db.Conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("introspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
