// Package store persists companies, filings, chunks and their embeddings and
// serves similarity search over them.
package store

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/fabfab/filing-agent/filing"
)

// ErrDocumentNotFound is returned by GetDocument for unknown ids.
var ErrDocumentNotFound = eris.New("document not found")

// ScoredChunk is a search hit. Seq is the store-wide insertion order and
// breaks score ties.
type ScoredChunk struct {
	filing.Chunk
	Score float64 `json:"score"`
	Seq   int64   `json:"-"`
}

// DocumentBatch is everything written when a filing is (re)ingested.
type DocumentBatch struct {
	Company    filing.Company
	Document   filing.Document
	Chunks     []filing.Chunk
	Embeddings []filing.Embedding
}

// Validate checks the one-embedding-per-chunk invariant and dimensions.
func (b DocumentBatch) Validate(dimension int) error {
	if b.Document.ID == "" {
		return eris.New("document id is required")
	}
	if len(b.Chunks) != len(b.Embeddings) {
		return eris.Errorf("have %d chunks but %d embeddings", len(b.Chunks), len(b.Embeddings))
	}
	for i, chunk := range b.Chunks {
		if chunk.DocumentID != b.Document.ID {
			return eris.Errorf("chunk %s belongs to %s, not %s", chunk.ID, chunk.DocumentID, b.Document.ID)
		}
		if dimension > 0 && len(b.Embeddings[i]) != dimension {
			return eris.Errorf("embedding %d has dimension %d, want %d", i, len(b.Embeddings[i]), dimension)
		}
	}
	return nil
}

// Repository is the persistence port used by ingestion and query.
type Repository interface {
	UpsertCompany(ctx context.Context, company filing.Company) error
	ListCompanies(ctx context.Context) ([]filing.Company, error)

	// ReplaceDocument atomically swaps a document's chunks and embeddings.
	// Readers see either the previous set or the new one, never a mix.
	ReplaceDocument(ctx context.Context, batch DocumentBatch) error
	GetDocument(ctx context.Context, id string) (filing.Document, error)
	// ListDocuments returns documents for tickers (all when empty).
	ListDocuments(ctx context.Context, tickers []string) ([]filing.Document, error)
	ListChunks(ctx context.Context, documentID string) ([]filing.Chunk, error)

	// Search ranks chunks by cosine similarity to query, restricted to
	// documentIDs when non-empty. Ties keep insertion order.
	Search(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error)

	Clear(ctx context.Context) error
	Close() error
}

// SortDocuments orders by ticker, year desc, annual first, then quarter.
func SortDocuments(docs []filing.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		if a.Quarter != b.Quarter {
			return a.Quarter < b.Quarter
		}
		return a.FilingType < b.FilingType
	})
}

func sortCompanies(companies []filing.Company) {
	sort.Slice(companies, func(i, j int) bool {
		return companies[i].Ticker < companies[j].Ticker
	})
}
