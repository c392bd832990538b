package ingestion

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/filing-agent/embeddings"
	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/resilience"
)

const defaultConcurrency = 4

// Indexer computes one embedding per chunk under the retry policy.
type Indexer struct {
	embedder    embeddings.Embedder
	policy      resilience.Policy
	dimension   int
	concurrency int
	logger      *zap.Logger
}

func NewIndexer(embedder embeddings.Embedder, policy resilience.Policy, dimension, concurrency int, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.L()
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Indexer{
		embedder:    embedder,
		policy:      policy,
		dimension:   dimension,
		concurrency: concurrency,
		logger:      logger.Named("indexer"),
	}
}

// Index embeds a single chunk. Exhausted retries yield ErrCapabilityFailure.
func (ix *Indexer) Index(ctx context.Context, chunk filing.Chunk) (filing.Embedding, error) {
	if ix.embedder == nil {
		return nil, filing.CapabilityFailure(eris.New("embedder not configured"), "embed chunk")
	}

	vecs, err := resilience.DoVal(ctx, ix.policy, func(ctx context.Context) ([][]float32, error) {
		return ix.embedder.Embed(ctx, []string{chunk.Content})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, filing.CapabilityFailure(err, "embed chunk "+chunk.ID)
	}
	if len(vecs) != 1 {
		return nil, filing.CapabilityFailure(eris.Errorf("embedder returned %d vectors for 1 input", len(vecs)), "embed chunk "+chunk.ID)
	}
	if ix.dimension > 0 && len(vecs[0]) != ix.dimension {
		return nil, filing.CapabilityFailure(
			eris.Errorf("embedding has dimension %d, want %d", len(vecs[0]), ix.dimension), "embed chunk "+chunk.ID)
	}
	return filing.Embedding(vecs[0]), nil
}

// IndexAll embeds chunks with bounded concurrency. The result is aligned
// with chunks; the first failure cancels the rest.
func (ix *Indexer) IndexAll(ctx context.Context, chunks []filing.Chunk) ([]filing.Embedding, error) {
	out := make([]filing.Embedding, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			vec, err := ix.Index(gctx, chunk)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Caller cancellation wins over whatever the workers reported.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	ix.logger.Debug("indexed chunks", zap.Int("count", len(chunks)))
	return out, nil
}
