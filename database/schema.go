package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rotisserie/eris"
)

// EnsurePostgresSchema creates the filing tables and the HNSW cosine index.
func EnsurePostgresSchema(ctx context.Context, pool Pool, dimension int) error {
	if dimension <= 0 {
		return eris.New("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS companies (
			ticker TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS filing_documents (
			id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL REFERENCES companies(ticker),
			year INT NOT NULL,
			quarter INT NOT NULL,
			filing_type TEXT NOT NULL,
			filing_date TIMESTAMPTZ,
			source_url TEXT NOT NULL DEFAULT '',
			ingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(ticker, year, quarter, filing_type)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS filing_chunks (
			seq BIGINT GENERATED ALWAYS AS IDENTITY,
			id UUID PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES filing_documents(id) ON DELETE CASCADE,
			ordinal INT NOT NULL,
			content_type TEXT NOT NULL,
			content TEXT NOT NULL,
			section TEXT NOT NULL DEFAULT '',
			page INT NOT NULL DEFAULT 0,
			path TEXT NOT NULL DEFAULT '',
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(document_id, ordinal)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_filing_documents_ticker ON filing_documents(ticker, year)",
		"CREATE INDEX IF NOT EXISTS idx_filing_chunks_document ON filing_chunks(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_filing_chunks_embedding ON filing_chunks USING hnsw (embedding vector_cosine_ops)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "execute schema statement")
		}
	}

	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS companies (
	ticker     TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS filing_documents (
	id          TEXT PRIMARY KEY,
	ticker      TEXT NOT NULL REFERENCES companies(ticker),
	year        INTEGER NOT NULL,
	quarter     INTEGER NOT NULL,
	filing_type TEXT NOT NULL,
	filing_date DATETIME,
	source_url  TEXT NOT NULL DEFAULT '',
	ingested_at DATETIME NOT NULL,
	UNIQUE(ticker, year, quarter, filing_type)
);

CREATE TABLE IF NOT EXISTS filing_chunks (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	document_id  TEXT NOT NULL REFERENCES filing_documents(id) ON DELETE CASCADE,
	ordinal      INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	content      TEXT NOT NULL,
	section      TEXT NOT NULL DEFAULT '',
	page         INTEGER NOT NULL DEFAULT 0,
	path         TEXT NOT NULL DEFAULT '',
	embedding    TEXT NOT NULL,
	created_at   DATETIME NOT NULL,
	UNIQUE(document_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_filing_documents_ticker ON filing_documents(ticker, year);
CREATE INDEX IF NOT EXISTS idx_filing_chunks_document ON filing_chunks(document_id);
`

// EnsureSQLiteSchema creates the filing tables. Embeddings are stored as JSON
// arrays and scored in process.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}
