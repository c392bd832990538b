package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/embeddings"
	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/llm"
	"github.com/fabfab/filing-agent/resilience"
	"github.com/fabfab/filing-agent/store"
)

const (
	DefaultTopK            = 8
	defaultCandidateFactor = 3
	rerankExcerptRunes     = 500
)

// Searcher ranks stored chunks by similarity.
type Searcher interface {
	Search(ctx context.Context, query []float32, documentIDs []string, topK int) ([]store.ScoredChunk, error)
}

// RetrieverOptions enables LLM reranking over TopK*CandidateFactor candidates.
type RetrieverOptions struct {
	Rerank          bool
	CandidateFactor int
}

type Retriever struct {
	embedder embeddings.Embedder
	searcher Searcher
	reranker llm.Client
	policy   resilience.Policy
	opts     RetrieverOptions
	logger   *zap.Logger
}

// NewRetriever builds a retriever. reranker may be nil, which disables reranking.
func NewRetriever(embedder embeddings.Embedder, searcher Searcher, reranker llm.Client, policy resilience.Policy, opts RetrieverOptions, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.L()
	}
	if opts.CandidateFactor <= 1 {
		opts.CandidateFactor = defaultCandidateFactor
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		reranker: reranker,
		policy:   policy,
		opts:     opts,
		logger:   logger.Named("retriever"),
	}
}

// Retrieve embeds the scope's question once and returns the topK most
// similar chunks of documentIDs, all content types ranked together.
func (r *Retriever) Retrieve(ctx context.Context, scope filing.QueryScope, documentIDs []string, topK int) ([]store.ScoredChunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if r.embedder == nil {
		return nil, filing.CapabilityFailure(eris.New("embedder not configured"), "embed question")
	}

	text := retrievalText(scope)
	vecs, err := resilience.DoVal(ctx, r.policy.WithLogger("embeddings", "embed question"), func(ctx context.Context) ([][]float32, error) {
		return r.embedder.Embed(ctx, []string{text})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, filing.CapabilityFailure(err, "embed question")
	}
	if len(vecs) != 1 {
		return nil, filing.CapabilityFailure(eris.Errorf("embedder returned %d vectors for 1 input", len(vecs)), "embed question")
	}

	rerank := r.opts.Rerank && r.reranker != nil
	limit := topK
	if rerank {
		limit = topK * r.opts.CandidateFactor
	}

	hits, err := r.searcher.Search(ctx, vecs[0], documentIDs, limit)
	if err != nil {
		return nil, eris.Wrap(err, "search chunks")
	}

	if rerank && len(hits) > 1 {
		reranked, err := r.rerank(ctx, scope.Question, hits)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			r.logger.Warn("rerank failed, keeping similarity order", zap.Error(err))
		default:
			hits = reranked
		}
	}

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// retrievalText is the question plus any extracted topics.
func retrievalText(scope filing.QueryScope) string {
	if len(scope.Topics) == 0 {
		return scope.Question
	}
	return scope.Question + "\nTopics: " + strings.Join(scope.Topics, ", ")
}

type rerankResponse struct {
	Ranking   []int  `json:"ranking"`
	Reasoning string `json:"reasoning"`
}

const rerankSystem = "You rank excerpts of SEC filings by how well they answer a question. Reply with JSON only."

// rerank asks the model for a 1-based ranking of hits. Indexes it leaves out
// follow in their original order; invalid or repeated indexes are ignored.
func (r *Retriever) rerank(ctx context.Context, question string, hits []store.ScoredChunk) ([]store.ScoredChunk, error) {
	blocks := make([]llm.Block, len(hits))
	for i, h := range hits {
		blocks[i] = llm.Block{
			Label: fmt.Sprintf("Chunk %d (type: %s, location: %s)", i+1, h.ContentType, h.Location),
			Text:  truncateRunes(h.Content, rerankExcerptRunes),
		}
	}

	out, err := llm.Complete(ctx, r.reranker, r.policy.WithLogger("llm", "rerank"), llm.Prompt{
		System: rerankSystem,
		Blocks: blocks,
		Instruction: "Question: " + question + "\n\n" +
			`Return {"ranking": [...], "reasoning": "..."} where ranking lists chunk numbers (1-based) from most to least relevant. ` +
			"Prefer chunks with the figures or statements that directly answer the question.",
	})
	if err != nil {
		return nil, err
	}

	var resp rerankResponse
	if err := llm.DecodeJSON(out, &resp); err != nil {
		return nil, err
	}

	ranked := make([]store.ScoredChunk, 0, len(hits))
	used := make([]bool, len(hits))
	for _, n := range resp.Ranking {
		i := n - 1
		if i < 0 || i >= len(hits) || used[i] {
			continue
		}
		used[i] = true
		ranked = append(ranked, hits[i])
	}
	if len(ranked) == 0 {
		return nil, eris.Wrap(filing.ErrParseFailure, "rerank returned no usable indexes")
	}
	for i, h := range hits {
		if !used[i] {
			ranked = append(ranked, h)
		}
	}
	if resp.Reasoning != "" {
		r.logger.Debug("reranked chunks", zap.Ints("ranking", resp.Ranking), zap.String("reasoning", resp.Reasoning))
	}
	return ranked, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
