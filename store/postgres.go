package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/database"
	"github.com/fabfab/filing-agent/filing"
)

const (
	upsertCompanySQL = `
		INSERT INTO companies (ticker, name) VALUES ($1, $2)
		ON CONFLICT (ticker) DO UPDATE
		SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE companies.name END`

	upsertDocumentSQL = `
		INSERT INTO filing_documents (id, ticker, year, quarter, filing_type, filing_date, source_url, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET filing_date = EXCLUDED.filing_date,
		    source_url = EXCLUDED.source_url,
		    ingested_at = EXCLUDED.ingested_at`

	deleteChunksSQL = `DELETE FROM filing_chunks WHERE document_id = $1`

	insertChunkSQL = `
		INSERT INTO filing_chunks (id, document_id, ordinal, content_type, content, section, page, path, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	documentColumns = `id, ticker, year, quarter, filing_type, filing_date, source_url, ingested_at`

	chunkColumns = `c.seq, c.id::text, c.document_id, c.ordinal, c.content_type, c.content, c.section, c.page, c.path, c.created_at`
)

// Postgres is a Repository on pgx + pgvector. Similarity uses the cosine
// distance operator (<=>) backed by the HNSW index.
type Postgres struct {
	pool      database.Pool
	dimension int
	closeFn   func()
	now       func() time.Time
}

// NewPostgres wraps pool. closeFn, when non-nil, is called by Close.
func NewPostgres(pool database.Pool, dimension int, closeFn func()) *Postgres {
	return &Postgres{
		pool:      pool,
		dimension: dimension,
		closeFn:   closeFn,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	return database.EnsurePostgresSchema(ctx, p.pool, p.dimension)
}

func (p *Postgres) UpsertCompany(ctx context.Context, company filing.Company) error {
	_, err := p.pool.Exec(ctx, upsertCompanySQL, filing.NormalizeTicker(company.Ticker), company.Name)
	return eris.Wrap(err, "postgres: upsert company")
}

func (p *Postgres) ListCompanies(ctx context.Context) ([]filing.Company, error) {
	rows, err := p.pool.Query(ctx, `SELECT ticker, name FROM companies ORDER BY ticker`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []filing.Company
	for rows.Next() {
		var c filing.Company
		if err := rows.Scan(&c.Ticker, &c.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate companies")
}

func (p *Postgres) ReplaceDocument(ctx context.Context, batch DocumentBatch) (err error) {
	if err := batch.Validate(p.dimension); err != nil {
		return eris.Wrap(err, "postgres: replace document")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				zap.L().Warn("postgres: rollback failed", zap.Error(rbErr))
			}
		}
	}()

	doc := batch.Document
	ticker := batch.Company.Ticker
	if ticker == "" {
		ticker = doc.Ticker
	}
	if _, err = tx.Exec(ctx, upsertCompanySQL, filing.NormalizeTicker(ticker), batch.Company.Name); err != nil {
		return eris.Wrap(err, "postgres: upsert company")
	}

	now := p.now()
	var filingDate *time.Time
	if !doc.FilingDate.IsZero() {
		filingDate = &doc.FilingDate
	}
	if _, err = tx.Exec(ctx, upsertDocumentSQL,
		doc.ID, doc.Ticker, doc.Year, doc.Quarter, string(doc.FilingType), filingDate, doc.SourceURL, now,
	); err != nil {
		return eris.Wrap(err, "postgres: upsert document")
	}

	if _, err = tx.Exec(ctx, deleteChunksSQL, doc.ID); err != nil {
		return eris.Wrap(err, "postgres: clear existing chunks")
	}

	for i, chunk := range batch.Chunks {
		if _, err = tx.Exec(ctx, insertChunkSQL,
			chunk.ID, doc.ID, chunk.Ordinal, string(chunk.ContentType), chunk.Content,
			chunk.Location.Section, chunk.Location.Page, chunk.Location.Path,
			pgvector.NewVector(batch.Embeddings[i]), now,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert chunk %d", chunk.Ordinal)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}
	return nil
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (filing.Document, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM filing_documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return filing.Document{}, eris.Wrapf(ErrDocumentNotFound, "document %s", id)
		}
		return filing.Document{}, eris.Wrap(err, "postgres: get document")
	}
	return doc, nil
}

func (p *Postgres) ListDocuments(ctx context.Context, tickers []string) ([]filing.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM filing_documents`
	var args []any
	if len(tickers) > 0 {
		normalized := make([]string, len(tickers))
		for i, t := range tickers {
			normalized[i] = filing.NormalizeTicker(t)
		}
		query += ` WHERE ticker = ANY($1)`
		args = append(args, normalized)
	}
	query += ` ORDER BY ticker, year DESC, quarter, filing_type`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var out []filing.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		out = append(out, doc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate documents")
}

func (p *Postgres) ListChunks(ctx context.Context, documentID string) ([]filing.Chunk, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM filing_chunks c WHERE c.document_id = $1 ORDER BY c.ordinal`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list chunks")
	}
	defer rows.Close()

	var out []filing.Chunk
	for rows.Next() {
		var hit ScoredChunk
		if err := scanChunk(rows, &hit); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		out = append(out, hit.Chunk)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate chunks")
}

func (p *Postgres) Search(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error) {
	if len(query) == 0 {
		return nil, eris.New("postgres: query embedding is empty")
	}

	sql := `SELECT ` + chunkColumns + `, 1 - (c.embedding <=> $1::vector) AS score FROM filing_chunks c`
	args := []any{pgvector.NewVector(query)}
	if len(documentIDs) > 0 {
		args = append(args, documentIDs)
		sql += fmt.Sprintf(` WHERE c.document_id = ANY($%d)`, len(args))
	}
	sql += ` ORDER BY c.embedding <=> $1::vector, c.seq`
	if topK > 0 {
		args = append(args, topK)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: similarity search")
	}
	defer rows.Close()

	var hits []ScoredChunk
	for rows.Next() {
		var hit ScoredChunk
		if err := scanChunk(rows, &hit, &hit.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search hit")
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate search hits")
	}
	// The index orders by distance; re-apply the exact tie-break in process.
	return rankCandidates(hits, topK), nil
}

func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `TRUNCATE filing_chunks, filing_documents, companies`)
	return eris.Wrap(err, "postgres: truncate")
}

func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

func scanDocument(row pgx.Row) (filing.Document, error) {
	var (
		doc        filing.Document
		filingType string
		filingDate *time.Time
	)
	if err := row.Scan(&doc.ID, &doc.Ticker, &doc.Year, &doc.Quarter, &filingType, &filingDate, &doc.SourceURL, &doc.IngestedAt); err != nil {
		return filing.Document{}, err
	}
	doc.FilingType = filing.FilingType(filingType)
	if filingDate != nil {
		doc.FilingDate = *filingDate
	}
	return doc, nil
}

func scanChunk(row pgx.Row, hit *ScoredChunk, extra ...any) error {
	var contentType string
	dest := []any{
		&hit.Seq, &hit.ID, &hit.DocumentID, &hit.Ordinal, &contentType, &hit.Content,
		&hit.Location.Section, &hit.Location.Page, &hit.Location.Path, &hit.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	hit.ContentType = filing.ContentType(contentType)
	return nil
}

var _ Repository = (*Postgres)(nil)
