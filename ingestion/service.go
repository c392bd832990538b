// Package ingestion turns one periodic filing into stored, searchable chunks:
// fetch, extract, chunk, embed, then replace the stored copy atomically.
package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/extraction"
	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/resilience"
	"github.com/fabfab/filing-agent/store"
)

// Source retrieves the raw payload of one filing. It returns
// filing.ErrNotFound when the filing does not exist.
type Source interface {
	Fetch(ctx context.Context, req filing.FilingRequest) (*filing.RawFiling, error)
}

// GraphSyncer mirrors stored filings into a secondary graph view.
type GraphSyncer interface {
	SyncFiling(ctx context.Context, company filing.Company, doc filing.Document, chunks []filing.Chunk) error
	Purge(ctx context.Context) error
}

type Service struct {
	source    Source
	extractor *extraction.Extractor
	chunker   Chunker
	indexer   *Indexer
	repo      store.Repository
	graph     GraphSyncer
	policy    resilience.Policy
	logger    *zap.Logger
}

// NewService wires the pipeline. graph may be nil.
func NewService(source Source, extractor *extraction.Extractor, chunker Chunker, indexer *Indexer, repo store.Repository, graph GraphSyncer, policy resilience.Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	if extractor == nil {
		extractor = extraction.NewExtractor(logger)
	}
	return &Service{
		source:    source,
		extractor: extractor,
		chunker:   chunker,
		indexer:   indexer,
		repo:      repo,
		graph:     graph,
		policy:    policy,
		logger:    logger.Named("ingestion"),
	}
}

// Process ingests the requested filing and returns the stored document.
// Nothing is written unless every step before the final replace succeeds,
// so a failed run leaves any previous copy of the filing untouched.
func (s *Service) Process(ctx context.Context, req filing.FilingRequest) (filing.Document, error) {
	req, err := req.Normalize()
	if err != nil {
		return filing.Document{}, err
	}
	if s.source == nil || s.repo == nil || s.indexer == nil {
		return filing.Document{}, eris.New("ingestion service is not fully configured")
	}
	started := time.Now()
	docID := req.DocumentID()
	log := s.logger.With(zap.String("document_id", docID))

	fetchPolicy := s.policy.WithLogger("edgar", "fetch")
	raw, err := resilience.DoVal(ctx, fetchPolicy, func(ctx context.Context) (*filing.RawFiling, error) {
		return s.source.Fetch(ctx, req)
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return filing.Document{}, ctx.Err()
		case errors.Is(err, filing.ErrNotFound):
			return filing.Document{}, eris.Wrapf(err, "fetch %s", docID)
		default:
			return filing.Document{}, filing.CapabilityFailure(err, "fetch "+docID)
		}
	}

	res, err := s.extractor.Extract(ctx, raw)
	if err != nil {
		return filing.Document{}, eris.Wrapf(err, "extract %s", docID)
	}
	for _, skipped := range res.Skipped {
		log.Info("segment skipped", zap.String("segment", skipped.Segment), zap.String("reason", skipped.Reason))
	}

	chunks := s.chunker.Chunk(docID, res.Units)
	if len(chunks) == 0 {
		return filing.Document{}, eris.Wrapf(filing.ErrParseFailure, "%s produced no chunks", docID)
	}

	vectors, err := s.indexer.IndexAll(ctx, chunks)
	if err != nil {
		return filing.Document{}, eris.Wrapf(err, "index %s", docID)
	}

	doc := req.Document()
	doc.FilingDate = res.FilingDate
	doc.SourceURL = raw.SourceURL
	company := filing.Company{Ticker: req.Ticker, Name: res.CompanyName}

	if err := s.repo.ReplaceDocument(ctx, store.DocumentBatch{
		Company:    company,
		Document:   doc,
		Chunks:     chunks,
		Embeddings: vectors,
	}); err != nil {
		return filing.Document{}, eris.Wrapf(err, "store %s", docID)
	}

	stored, err := s.repo.GetDocument(ctx, docID)
	if err != nil {
		return filing.Document{}, eris.Wrapf(err, "reload %s", docID)
	}

	if s.graph != nil {
		if err := s.graph.SyncFiling(ctx, company, stored, chunks); err != nil {
			log.Warn("knowledge graph sync failed", zap.Error(err))
		}
	}

	log.Info("filing ingested",
		zap.Int("chunks", len(chunks)),
		zap.Int("skipped_segments", len(res.Skipped)),
		zap.Duration("elapsed", time.Since(started)))
	return stored, nil
}

// Clear removes every stored filing and, when configured, the graph view.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return eris.Wrap(err, "clear store")
	}
	if s.graph != nil {
		if err := s.graph.Purge(ctx); err != nil {
			return eris.Wrap(err, "purge knowledge graph")
		}
	}
	s.logger.Info("cleared stored filings")
	return nil
}
