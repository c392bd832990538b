package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/filing-agent/database"
	"github.com/fabfab/filing-agent/filing"
)

const testDim = 3

func testBatch(ticker string, year, quarter int, ft filing.FilingType, vectors ...filing.Embedding) DocumentBatch {
	doc := filing.Document{
		ID:         filing.DocumentID(ticker, year, quarter, ft),
		Ticker:     ticker,
		Year:       year,
		Quarter:    quarter,
		FilingType: ft,
		FilingDate: time.Date(year, 11, 3, 0, 0, 0, 0, time.UTC),
	}
	batch := DocumentBatch{Company: filing.Company{Ticker: ticker}, Document: doc}
	for i, v := range vectors {
		ct := filing.ContentText
		if i%2 == 1 {
			ct = filing.ContentTable
		}
		batch.Chunks = append(batch.Chunks, filing.Chunk{
			ID:          fmt.Sprintf("%08d-0000-5000-8000-%012d", i, year*10+quarter),
			DocumentID:  doc.ID,
			Ordinal:     i,
			ContentType: ct,
			Content:     fmt.Sprintf("%s chunk %d", doc.ID, i),
			Location:    filing.Location{Section: "Item 7", Page: i + 1},
		})
		batch.Embeddings = append(batch.Embeddings, v)
	}
	return batch
}

func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("replace and search", func(t *testing.T) {
		require.NoError(t, repo.Clear(ctx))
		batch := testBatch("AAPL", 2023, 0, filing.TypeAnnual,
			filing.Embedding{1, 0, 0}, filing.Embedding{0, 1, 0}, filing.Embedding{0.9, 0.1, 0})
		batch.Company.Name = "Apple Inc."
		require.NoError(t, repo.ReplaceDocument(ctx, batch))

		hits, err := repo.Search(ctx, []float32{1, 0, 0}, nil, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, 0, hits[0].Ordinal)
		assert.Equal(t, 2, hits[1].Ordinal)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
		assert.False(t, hits[0].CreatedAt.IsZero())
		assert.Equal(t, filing.Location{Section: "Item 7", Page: 1}, hits[0].Location)

		companies, err := repo.ListCompanies(ctx)
		require.NoError(t, err)
		assert.Equal(t, []filing.Company{{Ticker: "AAPL", Name: "Apple Inc."}}, companies)
	})

	t.Run("re-ingestion is idempotent", func(t *testing.T) {
		require.NoError(t, repo.Clear(ctx))
		batch := testBatch("AAPL", 2023, 0, filing.TypeAnnual, filing.Embedding{1, 0, 0}, filing.Embedding{0, 1, 0})
		require.NoError(t, repo.ReplaceDocument(ctx, batch))
		require.NoError(t, repo.ReplaceDocument(ctx, batch))

		docs, err := repo.ListDocuments(ctx, []string{"aapl"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "AAPL_2023_4_10K", docs[0].ID)

		chunks, err := repo.ListChunks(ctx, docs[0].ID)
		require.NoError(t, err)
		assert.Len(t, chunks, 2)
	})

	t.Run("ties keep insertion order", func(t *testing.T) {
		require.NoError(t, repo.Clear(ctx))
		same := filing.Embedding{0, 0, 1}
		require.NoError(t, repo.ReplaceDocument(ctx, testBatch("MSFT", 2024, 1, filing.TypeQuarterly, same, same)))
		require.NoError(t, repo.ReplaceDocument(ctx, testBatch("MSFT", 2024, 2, filing.TypeQuarterly, same)))

		hits, err := repo.Search(ctx, []float32{0, 0, 1}, nil, 0)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "MSFT_2024_1_10Q", hits[0].DocumentID)
		assert.Equal(t, 0, hits[0].Ordinal)
		assert.Equal(t, 1, hits[1].Ordinal)
		assert.Equal(t, "MSFT_2024_2_10Q", hits[2].DocumentID)
	})

	t.Run("search restricted to documents", func(t *testing.T) {
		require.NoError(t, repo.Clear(ctx))
		require.NoError(t, repo.ReplaceDocument(ctx, testBatch("AAPL", 2023, 0, filing.TypeAnnual, filing.Embedding{1, 0, 0})))
		require.NoError(t, repo.ReplaceDocument(ctx, testBatch("AAPL", 2022, 0, filing.TypeAnnual, filing.Embedding{1, 0, 0})))

		hits, err := repo.Search(ctx, []float32{1, 0, 0}, []string{"AAPL_2022_4_10K"}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "AAPL_2022_4_10K", hits[0].DocumentID)
	})

	t.Run("list documents ordering and lookup", func(t *testing.T) {
		require.NoError(t, repo.Clear(ctx))
		require.NoError(t, repo.ReplaceDocument(ctx, testBatch("AAPL", 2022, 0, filing.TypeAnnual, filing.Embedding{1, 0, 0})))
		require.NoError(t, repo.ReplaceDocument(ctx, testBatch("AAPL", 2023, 2, filing.TypeQuarterly, filing.Embedding{1, 0, 0})))
		require.NoError(t, repo.ReplaceDocument(ctx, testBatch("AAPL", 2023, 0, filing.TypeAnnual, filing.Embedding{1, 0, 0})))

		docs, err := repo.ListDocuments(ctx, nil)
		require.NoError(t, err)
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		assert.Equal(t, []string{"AAPL_2023_4_10K", "AAPL_2023_2_10Q", "AAPL_2022_4_10K"}, ids)

		doc, err := repo.GetDocument(ctx, "AAPL_2023_2_10Q")
		require.NoError(t, err)
		assert.Equal(t, 2, doc.Quarter)
		assert.Equal(t, filing.TypeQuarterly, doc.FilingType)
		assert.False(t, doc.IngestedAt.IsZero())

		_, err = repo.GetDocument(ctx, "NOPE_2020_4_10K")
		assert.True(t, errors.Is(err, ErrDocumentNotFound))
	})

	t.Run("invalid batch is rejected without writes", func(t *testing.T) {
		require.NoError(t, repo.Clear(ctx))
		batch := testBatch("AAPL", 2023, 0, filing.TypeAnnual, filing.Embedding{1, 0, 0})
		batch.Embeddings = append(batch.Embeddings, filing.Embedding{1, 0, 0})
		assert.Error(t, repo.ReplaceDocument(ctx, batch))

		docs, err := repo.ListDocuments(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("company name is kept when later batches omit it", func(t *testing.T) {
		require.NoError(t, repo.Clear(ctx))
		require.NoError(t, repo.UpsertCompany(ctx, filing.Company{Ticker: "nvda", Name: "NVIDIA Corp"}))
		require.NoError(t, repo.ReplaceDocument(ctx, testBatch("NVDA", 2024, 0, filing.TypeAnnual, filing.Embedding{1, 0, 0})))

		companies, err := repo.ListCompanies(ctx)
		require.NoError(t, err)
		assert.Equal(t, []filing.Company{{Ticker: "NVDA", Name: "NVIDIA Corp"}}, companies)
	})
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryContract(t, NewMemory(testDim))
}

func TestSQLiteRepository(t *testing.T) {
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "filings.db"), testDim)
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Migrate(context.Background()))

	runRepositoryContract(t, repo)
}

func TestPostgresRepositoryIntegration(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run vector search checks against postgres")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, os.Getenv("POSTGRES_DSN"))
	require.NoError(t, err)

	repo := NewPostgres(pool, testDim, pool.Close)
	defer repo.Close()
	require.NoError(t, repo.Migrate(ctx))

	runRepositoryContract(t, repo)
	require.NoError(t, repo.Clear(ctx))
}

func TestSQLiteClearIsAtomicToReaders(t *testing.T) {
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "filings.db"), testDim)
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()
	require.NoError(t, repo.Migrate(ctx))

	batch := testBatch("AAPL", 2023, 0, filing.TypeAnnual, filing.Embedding{1, 0, 0}, filing.Embedding{0, 1, 0})
	for round := 0; round < 10; round++ {
		require.NoError(t, repo.ReplaceDocument(ctx, batch))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				chunks, err := repo.ListChunks(ctx, batch.Document.ID)
				if !assert.NoError(t, err) {
					return
				}
				if len(chunks) > 0 {
					continue
				}
				_, err = repo.GetDocument(ctx, batch.Document.ID)
				assert.True(t, errors.Is(err, ErrDocumentNotFound), "document visible without its chunks")
				return
			}
		}()
		require.NoError(t, repo.Clear(ctx))
		wg.Wait()

		docs, err := repo.ListDocuments(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, docs)
	}
}

func TestMemoryReplaceIsAtomicToReaders(t *testing.T) {
	repo := NewMemory(testDim)
	ctx := context.Background()

	oldBatch := testBatch("AAPL", 2023, 0, filing.TypeAnnual, filing.Embedding{1, 0, 0}, filing.Embedding{1, 0, 0})
	require.NoError(t, repo.ReplaceDocument(ctx, oldBatch))

	newBatch := testBatch("AAPL", 2023, 0, filing.TypeAnnual,
		filing.Embedding{1, 0, 0}, filing.Embedding{1, 0, 0}, filing.Embedding{1, 0, 0}, filing.Embedding{1, 0, 0})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			b := oldBatch
			if i%2 == 0 {
				b = newBatch
			}
			assert.NoError(t, repo.ReplaceDocument(ctx, b))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hits, err := repo.Search(ctx, []float32{1, 0, 0}, nil, 0)
			assert.NoError(t, err)
			assert.Contains(t, []int{2, 4}, len(hits))
		}
	}()
	wg.Wait()
}

func TestCosine(t *testing.T) {
	s, err := Cosine([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	s, err = Cosine([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-9)

	s, err = Cosine([]float32{0, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.Zero(t, s)

	_, err = Cosine([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestSortDocuments(t *testing.T) {
	docs := []filing.Document{
		{Ticker: "MSFT", Year: 2023},
		{Ticker: "AAPL", Year: 2022},
		{Ticker: "AAPL", Year: 2023, Quarter: 3, FilingType: filing.TypeQuarterly},
		{Ticker: "AAPL", Year: 2023, FilingType: filing.TypeAnnual},
	}
	SortDocuments(docs)
	assert.Equal(t, "AAPL", docs[0].Ticker)
	assert.Equal(t, 0, docs[0].Quarter)
	assert.Equal(t, 3, docs[1].Quarter)
	assert.Equal(t, 2022, docs[2].Year)
	assert.Equal(t, "MSFT", docs[3].Ticker)
}
