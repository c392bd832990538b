package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fabfab/filing-agent/database"
	"github.com/fabfab/filing-agent/filing"
)

// SQLite is a single-file Repository on modernc.org/sqlite. Embeddings are
// JSON arrays and similarity is computed in process.
type SQLite struct {
	db        *sql.DB
	dimension int
	now       func() time.Time
}

func NewSQLite(path string, dimension int) (*SQLite, error) {
	db, err := database.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, dimension: dimension, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	return database.EnsureSQLiteSchema(ctx, s.db)
}

const sqliteUpsertCompany = `
	INSERT INTO companies (ticker, name) VALUES (?, ?)
	ON CONFLICT(ticker) DO UPDATE
	SET name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE companies.name END`

func (s *SQLite) UpsertCompany(ctx context.Context, company filing.Company) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsertCompany, filing.NormalizeTicker(company.Ticker), company.Name)
	return eris.Wrap(err, "sqlite: upsert company")
}

func (s *SQLite) ListCompanies(ctx context.Context) ([]filing.Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticker, name FROM companies ORDER BY ticker`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var out []filing.Company
	for rows.Next() {
		var c filing.Company
		if err := rows.Scan(&c.Ticker, &c.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate companies")
}

func (s *SQLite) ReplaceDocument(ctx context.Context, batch DocumentBatch) (err error) {
	if err := batch.Validate(s.dimension); err != nil {
		return eris.Wrap(err, "sqlite: replace document")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	doc := batch.Document
	ticker := batch.Company.Ticker
	if ticker == "" {
		ticker = doc.Ticker
	}
	if _, err = tx.ExecContext(ctx, sqliteUpsertCompany, filing.NormalizeTicker(ticker), batch.Company.Name); err != nil {
		return eris.Wrap(err, "sqlite: upsert company")
	}

	now := s.now()
	var filingDate sql.NullTime
	if !doc.FilingDate.IsZero() {
		filingDate = sql.NullTime{Time: doc.FilingDate.UTC(), Valid: true}
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO filing_documents (id, ticker, year, quarter, filing_type, filing_date, source_url, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE
		SET filing_date = excluded.filing_date,
		    source_url = excluded.source_url,
		    ingested_at = excluded.ingested_at`,
		doc.ID, doc.Ticker, doc.Year, doc.Quarter, string(doc.FilingType), filingDate, doc.SourceURL, now,
	); err != nil {
		return eris.Wrap(err, "sqlite: upsert document")
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM filing_chunks WHERE document_id = ?`, doc.ID); err != nil {
		return eris.Wrap(err, "sqlite: clear existing chunks")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO filing_chunks (id, document_id, ordinal, content_type, content, section, page, path, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare chunk insert")
	}
	defer stmt.Close()

	for i, chunk := range batch.Chunks {
		vec, marshalErr := json.Marshal(batch.Embeddings[i])
		if marshalErr != nil {
			err = eris.Wrap(marshalErr, "sqlite: marshal embedding")
			return err
		}
		if _, err = stmt.ExecContext(ctx,
			chunk.ID, doc.ID, chunk.Ordinal, string(chunk.ContentType), chunk.Content,
			chunk.Location.Section, chunk.Location.Page, chunk.Location.Path, string(vec), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert chunk %d", chunk.Ordinal)
		}
	}

	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	return nil
}

const sqliteDocumentColumns = `id, ticker, year, quarter, filing_type, filing_date, source_url, ingested_at`

func (s *SQLite) GetDocument(ctx context.Context, id string) (filing.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteDocumentColumns+` FROM filing_documents WHERE id = ?`, id)
	doc, err := scanSQLiteDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return filing.Document{}, eris.Wrapf(ErrDocumentNotFound, "document %s", id)
		}
		return filing.Document{}, eris.Wrap(err, "sqlite: get document")
	}
	return doc, nil
}

func (s *SQLite) ListDocuments(ctx context.Context, tickers []string) ([]filing.Document, error) {
	query := `SELECT ` + sqliteDocumentColumns + ` FROM filing_documents`
	var args []any
	if len(tickers) > 0 {
		query += ` WHERE ticker IN (` + placeholders(len(tickers)) + `)`
		for _, t := range tickers {
			args = append(args, filing.NormalizeTicker(t))
		}
	}
	query += ` ORDER BY ticker, year DESC, quarter, filing_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var out []filing.Document
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		out = append(out, doc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate documents")
}

const sqliteChunkColumns = `seq, id, document_id, ordinal, content_type, content, section, page, path, created_at, embedding`

func (s *SQLite) ListChunks(ctx context.Context, documentID string) ([]filing.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteChunkColumns+` FROM filing_chunks WHERE document_id = ? ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list chunks")
	}
	defer rows.Close()

	var out []filing.Chunk
	for rows.Next() {
		hit, _, err := scanSQLiteChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, hit.Chunk)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate chunks")
}

func (s *SQLite) Search(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error) {
	sqlText := `SELECT ` + sqliteChunkColumns + ` FROM filing_chunks`
	var args []any
	if len(documentIDs) > 0 {
		sqlText += ` WHERE document_id IN (` + placeholders(len(documentIDs)) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: similarity search")
	}
	defer rows.Close()

	var hits []ScoredChunk
	for rows.Next() {
		hit, vec, err := scanSQLiteChunk(rows)
		if err != nil {
			return nil, err
		}
		score, err := Cosine(query, vec)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: score chunk")
		}
		hit.Score = score
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate search hits")
	}
	return rankCandidates(hits, topK), nil
}

// Clear empties all tables in one transaction so readers never see
// documents without their chunks.
func (s *SQLite) Clear(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{
		`DELETE FROM filing_chunks`,
		`DELETE FROM filing_documents`,
		`DELETE FROM companies`,
	} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "sqlite: %s", stmt)
		}
	}
	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row rowScanner) (filing.Document, error) {
	var (
		doc        filing.Document
		filingType string
		filingDate sql.NullTime
	)
	if err := row.Scan(&doc.ID, &doc.Ticker, &doc.Year, &doc.Quarter, &filingType, &filingDate, &doc.SourceURL, &doc.IngestedAt); err != nil {
		return filing.Document{}, err
	}
	doc.FilingType = filing.FilingType(filingType)
	if filingDate.Valid {
		doc.FilingDate = filingDate.Time
	}
	return doc, nil
}

func scanSQLiteChunk(row rowScanner) (ScoredChunk, []float32, error) {
	var (
		hit         ScoredChunk
		contentType string
		rawVector   string
	)
	if err := row.Scan(&hit.Seq, &hit.ID, &hit.DocumentID, &hit.Ordinal, &contentType, &hit.Content,
		&hit.Location.Section, &hit.Location.Page, &hit.Location.Path, &hit.CreatedAt, &rawVector); err != nil {
		return ScoredChunk{}, nil, eris.Wrap(err, "sqlite: scan chunk")
	}
	hit.ContentType = filing.ContentType(contentType)

	var vec []float32
	if err := json.Unmarshal([]byte(rawVector), &vec); err != nil {
		return ScoredChunk{}, nil, eris.Wrapf(err, "sqlite: decode embedding for chunk %s", hit.ID)
	}
	return hit, vec, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var _ Repository = (*SQLite)(nil)
