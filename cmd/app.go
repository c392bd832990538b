package main

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/config"
	"github.com/fabfab/filing-agent/database"
	"github.com/fabfab/filing-agent/edgar"
	"github.com/fabfab/filing-agent/embeddings"
	"github.com/fabfab/filing-agent/extraction"
	"github.com/fabfab/filing-agent/ingestion"
	"github.com/fabfab/filing-agent/knowledge"
	"github.com/fabfab/filing-agent/llm"
	"github.com/fabfab/filing-agent/query"
	"github.com/fabfab/filing-agent/resilience"
	"github.com/fabfab/filing-agent/store"
)

// appEnv holds everything a command needs. Close releases the store and the
// graph driver.
type appEnv struct {
	Repo      store.Repository
	Ingestion *ingestion.Service
	Query     *query.Service

	driver neo4j.DriverWithContext
}

func (e *appEnv) Close(ctx context.Context) {
	if e.driver != nil {
		if err := e.driver.Close(ctx); err != nil {
			zap.L().Warn("close neo4j driver", zap.Error(err))
		}
	}
	if e.Repo != nil {
		if err := e.Repo.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initApp opens the store (and the knowledge graph when configured), builds
// the capability clients and wires both workflows. Callers should defer
// env.Close.
func initApp(ctx context.Context, c *config.Config) (*appEnv, error) {
	logger := zap.L()

	repo, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Repo: repo}

	embedder, err := embeddings.NewEmbedder(c)
	if err != nil {
		env.Close(ctx)
		return nil, eris.Wrap(err, "embedder setup")
	}
	llmClient, err := llm.NewClient(c)
	if err != nil {
		env.Close(ctx)
		return nil, eris.Wrap(err, "llm setup")
	}
	source, err := initSource(c, logger)
	if err != nil {
		env.Close(ctx)
		return nil, err
	}

	// Interfaces stay nil unless the graph is configured.
	var (
		graphSync ingestion.GraphSyncer
		insights  query.InsightSource
	)
	if c.Neo4j.URI != "" {
		driver, err := database.NewNeo4jDriver(ctx, c.Neo4j.URI, c.Neo4j.Username, c.Neo4j.Password)
		if err != nil {
			env.Close(ctx)
			return nil, eris.Wrap(err, "neo4j connection")
		}
		env.driver = driver
		graph := knowledge.NewGraph(driver)
		graphSync, insights = graph, graph
		logger.Info("knowledge graph enabled", zap.String("uri", c.Neo4j.URI))
	}

	policy := resilience.PolicyFromConfig(c.Retry)

	env.Ingestion = ingestion.NewService(
		source,
		extraction.NewExtractor(logger),
		ingestion.NewChunker(c.Chunker.MaxChars),
		ingestion.NewIndexer(embedder, policy.WithLogger("embeddings", "embed chunk"), c.Embeddings.Dimension, c.Ingestion.Concurrency, logger),
		repo,
		graphSync,
		policy,
		logger,
	)

	var reranker llm.Client
	if c.Retrieval.Rerank {
		reranker = llmClient
	}
	env.Query = query.NewService(
		query.NewAnalyzer(llmClient, repo, policy, logger),
		query.NewSelector(repo),
		query.NewRetriever(embedder, repo, reranker, policy, query.RetrieverOptions{
			Rerank:          c.Retrieval.Rerank,
			CandidateFactor: c.Retrieval.CandidateFactor,
		}, logger),
		query.NewGenerator(llmClient, policy, c.Retrieval.MinScore, logger),
		repo,
		insights,
		c.Retrieval.TopK,
		logger,
	)
	return env, nil
}

func initStore(ctx context.Context, c *config.Config) (store.Repository, error) {
	switch c.Store.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, c.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "postgres connection")
		}
		pg := store.NewPostgres(pool, c.Embeddings.Dimension, pool.Close)
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, eris.Wrap(err, "migrate postgres")
		}
		return pg, nil
	case config.DriverSQLite:
		sq, err := store.NewSQLite(c.Store.SQLitePath, c.Embeddings.Dimension)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite")
		}
		if err := sq.Migrate(ctx); err != nil {
			_ = sq.Close()
			return nil, eris.Wrap(err, "migrate sqlite")
		}
		return sq, nil
	case config.DriverMemory:
		return store.NewMemory(c.Embeddings.Dimension), nil
	default:
		return nil, eris.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

func initSource(c *config.Config, logger *zap.Logger) (ingestion.Source, error) {
	switch c.Edgar.Source {
	case config.SourceEDGAR:
		return edgar.NewClientFromConfig(c.Edgar, logger), nil
	case config.SourceLocal:
		return edgar.NewLocalSource(c.Edgar.LocalDir), nil
	default:
		return nil, eris.Errorf("unknown filing source %q", c.Edgar.Source)
	}
}
