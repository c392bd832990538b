package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/store"
)

// InsightSource enriches answer documents with knowledge-graph summaries.
type InsightSource interface {
	DocumentInsights(ctx context.Context, docIDs []string) (map[string]filing.DocumentInsight, error)
}

type Service struct {
	analyzer  *Analyzer
	selector  *Selector
	retriever *Retriever
	generator *Generator
	repo      store.Repository
	insights  InsightSource
	topK      int
	logger    *zap.Logger
}

// NewService wires the query pipeline. insights may be nil.
func NewService(analyzer *Analyzer, selector *Selector, retriever *Retriever, generator *Generator, repo store.Repository, insights InsightSource, topK int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{
		analyzer:  analyzer,
		selector:  selector,
		retriever: retriever,
		generator: generator,
		repo:      repo,
		insights:  insights,
		topK:      topK,
		logger:    logger.Named("query"),
	}
}

// run tracks one question through its lifecycle.
type run struct {
	state  filing.State
	logger *zap.Logger
}

func (r *run) advance(next filing.State) error {
	state, err := r.state.Next(next)
	if err != nil {
		return err
	}
	r.logger.Debug("query state", zap.String("from", string(r.state)), zap.String("to", string(state)))
	r.state = state
	return nil
}

// Answer runs a question to a terminal state. Ambiguous scope, missing data
// and insufficient context are reported in Answer.Status; only capability,
// storage and cancellation failures are returned as errors.
func (s *Service) Answer(ctx context.Context, question string) (filing.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return filing.Answer{}, eris.Wrap(filing.ErrInvalidRequest, "question cannot be empty")
	}
	r := &run{state: filing.StateReceived, logger: s.logger}

	scope, analyzeErr := s.analyzer.Analyze(ctx, question)
	if analyzeErr != nil && !errors.Is(analyzeErr, filing.ErrAmbiguousScope) {
		return filing.Answer{}, analyzeErr
	}
	if err := r.advance(filing.StateAnalyzed); err != nil {
		return filing.Answer{}, err
	}
	if analyzeErr != nil {
		if err := r.advance(filing.StateAmbiguousScope); err != nil {
			return filing.Answer{}, err
		}
		return filing.Answer{
			Status:    r.state,
			Text:      "Could not tell which company the question is about. Name the company or its ticker.",
			Citations: []filing.Citation{},
			Scope:     scope,
		}, nil
	}

	docs, err := s.selector.Select(ctx, scope)
	if err != nil {
		return filing.Answer{}, err
	}
	if err := r.advance(filing.StateScoped); err != nil {
		return filing.Answer{}, err
	}
	if len(docs) == 0 {
		if err := r.advance(filing.StateNoData); err != nil {
			return filing.Answer{}, err
		}
		return filing.Answer{
			Status:    r.state,
			Text:      noDataText(scope),
			Citations: []filing.Citation{},
			Scope:     scope,
		}, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	hits, err := s.retriever.Retrieve(ctx, scope, ids, s.topK)
	if err != nil {
		return filing.Answer{}, err
	}
	if err := r.advance(filing.StateRetrieved); err != nil {
		return filing.Answer{}, err
	}

	answer, err := s.generator.Generate(ctx, question, hits, docs)
	if err != nil {
		return filing.Answer{}, err
	}
	if err := r.advance(answer.Status); err != nil {
		return filing.Answer{}, err
	}

	answer.Scope = scope
	answer.Documents = s.documentRefs(ctx, docs)
	s.logger.Info("answered question",
		zap.String("status", string(answer.Status)),
		zap.Strings("documents", ids),
		zap.Int("chunks", len(hits)),
		zap.Int("citations", len(answer.Citations)))
	return answer, nil
}

// documentRefs attaches graph insights when available. Insight lookup is
// best-effort.
func (s *Service) documentRefs(ctx context.Context, docs []filing.Document) []filing.DocumentRef {
	refs := make([]filing.DocumentRef, len(docs))
	for i, d := range docs {
		refs[i] = filing.DocumentRef{Document: d}
	}
	if s.insights == nil {
		return refs
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	insights, err := s.insights.DocumentInsights(ctx, ids)
	if err != nil {
		s.logger.Warn("document insights unavailable", zap.Error(err))
		return refs
	}
	for i := range refs {
		if insight, ok := insights[refs[i].ID]; ok {
			refs[i].Insight = &insight
		}
	}
	return refs
}

func noDataText(scope filing.QueryScope) string {
	period := "any period"
	if len(scope.Years) > 0 {
		years := make([]string, len(scope.Years))
		for i, y := range scope.Years {
			years[i] = fmt.Sprint(y)
		}
		period = strings.Join(years, ", ")
	}
	return fmt.Sprintf("No filings for %s covering %s have been ingested.", strings.Join(scope.Tickers, ", "), period)
}

// Companies lists every company with ingested filings.
func (s *Service) Companies(ctx context.Context) ([]filing.Company, error) {
	return s.repo.ListCompanies(ctx)
}

// Documents lists ingested filings, optionally restricted to tickers.
func (s *Service) Documents(ctx context.Context, tickers []string) ([]filing.Document, error) {
	return s.repo.ListDocuments(ctx, tickers)
}
