package store

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fabfab/filing-agent/filing"
)

type memChunk struct {
	chunk  filing.Chunk
	vector filing.Embedding
	seq    int64
}

// Memory is an in-process Repository. A single RWMutex makes document
// replacement atomic to concurrent searches.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	companies map[string]filing.Company
	documents map[string]filing.Document
	chunks    map[string][]memChunk
	seq       int64
	now       func() time.Time
}

func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		companies: map[string]filing.Company{},
		documents: map[string]filing.Document{},
		chunks:    map[string][]memChunk{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) UpsertCompany(_ context.Context, company filing.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCompanyLocked(company)
	return nil
}

func (m *Memory) upsertCompanyLocked(company filing.Company) {
	ticker := filing.NormalizeTicker(company.Ticker)
	existing, ok := m.companies[ticker]
	if ok && company.Name == "" {
		return
	}
	if !ok || company.Name != existing.Name {
		m.companies[ticker] = filing.Company{Ticker: ticker, Name: company.Name}
	}
}

func (m *Memory) ListCompanies(_ context.Context) ([]filing.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]filing.Company, 0, len(m.companies))
	for _, c := range m.companies {
		out = append(out, c)
	}
	sortCompanies(out)
	return out, nil
}

func (m *Memory) ReplaceDocument(_ context.Context, batch DocumentBatch) error {
	if err := batch.Validate(m.dimension); err != nil {
		return eris.Wrap(err, "memory: replace document")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	company := batch.Company
	if company.Ticker == "" {
		company.Ticker = batch.Document.Ticker
	}
	m.upsertCompanyLocked(company)

	doc := batch.Document
	doc.IngestedAt = now
	m.documents[doc.ID] = doc

	stored := make([]memChunk, len(batch.Chunks))
	for i, chunk := range batch.Chunks {
		m.seq++
		chunk.CreatedAt = now
		vec := make(filing.Embedding, len(batch.Embeddings[i]))
		copy(vec, batch.Embeddings[i])
		stored[i] = memChunk{chunk: chunk, vector: vec, seq: m.seq}
	}
	m.chunks[doc.ID] = stored
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (filing.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return filing.Document{}, eris.Wrapf(ErrDocumentNotFound, "document %s", id)
	}
	return doc, nil
}

func (m *Memory) ListDocuments(_ context.Context, tickers []string) ([]filing.Document, error) {
	want := map[string]bool{}
	for _, t := range tickers {
		want[filing.NormalizeTicker(t)] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]filing.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		if len(want) > 0 && !want[doc.Ticker] {
			continue
		}
		out = append(out, doc)
	}
	SortDocuments(out)
	return out, nil
}

func (m *Memory) ListChunks(_ context.Context, documentID string) ([]filing.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.chunks[documentID]
	out := make([]filing.Chunk, len(stored))
	for i, c := range stored {
		out[i] = c.chunk
	}
	return out, nil
}

func (m *Memory) Search(ctx context.Context, query []float32, documentIDs []string, topK int) ([]ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := documentIDs
	if len(docs) == 0 {
		docs = make([]string, 0, len(m.chunks))
		for id := range m.chunks {
			docs = append(docs, id)
		}
	}

	var hits []ScoredChunk
	seen := map[string]bool{}
	for _, id := range docs {
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, c := range m.chunks[id] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			score, err := Cosine(query, c.vector)
			if err != nil {
				return nil, eris.Wrap(err, "memory: search")
			}
			hits = append(hits, ScoredChunk{Chunk: c.chunk, Score: score, Seq: c.seq})
		}
	}
	return rankCandidates(hits, topK), nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies = map[string]filing.Company{}
	m.documents = map[string]filing.Document{}
	m.chunks = map[string][]memChunk{}
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Repository = (*Memory)(nil)
