package query

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/store"
)

func putDocument(t *testing.T, repo store.Repository, ticker string, year, quarter int, ft filing.FilingType) filing.Document {
	t.Helper()
	doc := filing.FilingRequest{Ticker: ticker, Year: year, Quarter: quarter, FilingType: ft}.Document()
	require.NoError(t, repo.ReplaceDocument(context.Background(), store.DocumentBatch{
		Company:  filing.Company{Ticker: ticker},
		Document: doc,
	}))
	return doc
}

func selectorFixture(t *testing.T) *store.Memory {
	repo := store.NewMemory(0)
	putDocument(t, repo, "AAPL", 2022, 0, filing.TypeAnnual)
	putDocument(t, repo, "AAPL", 2023, 0, filing.TypeAnnual)
	putDocument(t, repo, "AAPL", 2023, 1, filing.TypeQuarterly)
	putDocument(t, repo, "AAPL", 2023, 2, filing.TypeQuarterly)
	putDocument(t, repo, "AAPL", 2023, 3, filing.TypeQuarterly)
	putDocument(t, repo, "MSFT", 2024, 0, filing.TypeAnnual)
	putDocument(t, repo, "MSFT", 2024, 2, filing.TypeQuarterly)
	return repo
}

func ids(docs []filing.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestSelect(t *testing.T) {
	s := NewSelector(selectorFixture(t))

	tests := []struct {
		name  string
		scope filing.QueryScope
		want  []string
	}{
		{
			name:  "annual filing requested explicitly",
			scope: filing.QueryScope{Tickers: []string{"AAPL"}, Years: []int{2023}, FilingTypes: []filing.FilingType{filing.TypeAnnual}},
			want:  []string{"AAPL_2023_4_10K"},
		},
		{
			name:  "year without quarter expands to annual and quarterlies",
			scope: filing.QueryScope{Tickers: []string{"AAPL"}, Years: []int{2023}},
			want:  []string{"AAPL_2023_4_10K", "AAPL_2023_1_10Q", "AAPL_2023_2_10Q", "AAPL_2023_3_10Q"},
		},
		{
			name:  "no year uses the most recent year on file",
			scope: filing.QueryScope{Tickers: []string{"aapl"}, Quarters: []int{1}},
			want:  []string{"AAPL_2023_1_10Q"},
		},
		{
			name:  "quarter zero names the annual filing",
			scope: filing.QueryScope{Tickers: []string{"AAPL"}, Years: []int{2022}, Quarters: []int{0}},
			want:  []string{"AAPL_2022_4_10K"},
		},
		{
			name:  "fourth quarter falls back to the annual filing",
			scope: filing.QueryScope{Tickers: []string{"AAPL"}, Years: []int{2023}, Quarters: []int{4}},
			want:  []string{"AAPL_2023_4_10K"},
		},
		{
			name:  "quarterly filing type filter",
			scope: filing.QueryScope{Tickers: []string{"AAPL"}, Years: []int{2023}, FilingTypes: []filing.FilingType{filing.TypeQuarterly}},
			want:  []string{"AAPL_2023_1_10Q", "AAPL_2023_2_10Q", "AAPL_2023_3_10Q"},
		},
		{
			name:  "each company resolves its own latest year",
			scope: filing.QueryScope{Tickers: []string{"MSFT", "AAPL"}, FilingTypes: []filing.FilingType{filing.TypeAnnual}},
			want:  []string{"AAPL_2023_4_10K", "MSFT_2024_4_10K"},
		},
		{
			name:  "multi-year comparison",
			scope: filing.QueryScope{Tickers: []string{"AAPL"}, Years: []int{2022, 2023}, Quarters: []int{0}},
			want:  []string{"AAPL_2023_4_10K", "AAPL_2022_4_10K"},
		},
		{
			name:  "missing quarter selects nothing",
			scope: filing.QueryScope{Tickers: []string{"MSFT"}, Years: []int{2024}, Quarters: []int{3}},
			want:  []string{},
		},
		{
			name:  "never ingested ticker",
			scope: filing.QueryScope{Tickers: []string{"TSLA"}, Years: []int{2023}},
			want:  []string{},
		},
		{
			name:  "no tickers",
			scope: filing.QueryScope{Years: []int{2023}},
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Select(context.Background(), tt.scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(docs))
		})
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	s := NewSelector(selectorFixture(t))
	scope := filing.QueryScope{Tickers: []string{"AAPL", "MSFT"}}

	first, err := s.Select(context.Background(), scope)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Select(context.Background(), scope)
		require.NoError(t, err)
		assert.Equal(t, ids(first), ids(again))
	}
}

type failingLister struct{}

func (failingLister) ListDocuments(context.Context, []string) ([]filing.Document, error) {
	return nil, errors.New("connection reset")
}

func TestSelectPropagatesStoreErrors(t *testing.T) {
	_, err := NewSelector(failingLister{}).Select(context.Background(), filing.QueryScope{Tickers: []string{"AAPL"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
