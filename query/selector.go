package query

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/store"
)

// DocumentLister lists ingested documents for a set of tickers.
type DocumentLister interface {
	ListDocuments(ctx context.Context, tickers []string) ([]filing.Document, error)
}

// Selector maps a scope to the concrete ingested filings it covers.
type Selector struct {
	documents DocumentLister
}

func NewSelector(documents DocumentLister) *Selector {
	return &Selector{documents: documents}
}

// Select applies, per ticker: the filing-type hints; the requested years, or
// the most recent year on file; then the requested quarters, or the annual
// filing plus every quarterly filing of those years. Quarter 0 names the
// annual filing and Q4 falls back to it when no Q4 10-Q exists.
//
// An empty result is not an error. Comparisons across companies or years
// apply the same rule to every (ticker, year) pair and nothing more.
func (s *Selector) Select(ctx context.Context, scope filing.QueryScope) ([]filing.Document, error) {
	scope = scope.Normalize()
	if len(scope.Tickers) == 0 {
		return nil, nil
	}

	docs, err := s.documents.ListDocuments(ctx, scope.Tickers)
	if err != nil {
		return nil, eris.Wrap(err, "list documents")
	}

	allowed := map[filing.FilingType]bool{}
	for _, ft := range scope.FilingTypes {
		allowed[ft] = true
	}

	byTicker := map[string][]filing.Document{}
	for _, d := range docs {
		if len(allowed) > 0 && !allowed[d.FilingType] {
			continue
		}
		byTicker[d.Ticker] = append(byTicker[d.Ticker], d)
	}

	var out []filing.Document
	for _, ticker := range scope.Tickers {
		out = append(out, selectForTicker(byTicker[ticker], scope.Years, scope.Quarters)...)
	}
	store.SortDocuments(out)
	return out, nil
}

func selectForTicker(docs []filing.Document, years, quarters []int) []filing.Document {
	if len(docs) == 0 {
		return nil
	}
	if len(years) == 0 {
		latest := 0
		for _, d := range docs {
			if d.Year > latest {
				latest = d.Year
			}
		}
		years = []int{latest}
	}

	var out []filing.Document
	seen := map[string]bool{}
	add := func(d filing.Document) {
		if !seen[d.ID] {
			seen[d.ID] = true
			out = append(out, d)
		}
	}

	for _, year := range years {
		var annual *filing.Document
		quarterly := map[int]filing.Document{}
		var inYear []filing.Document
		for i, d := range docs {
			if d.Year != year {
				continue
			}
			inYear = append(inYear, d)
			if d.FilingType.IsAnnual() {
				annual = &docs[i]
			} else {
				quarterly[d.Quarter] = d
			}
		}

		if len(quarters) == 0 {
			for _, d := range inYear {
				add(d)
			}
			continue
		}
		for _, q := range quarters {
			if d, ok := quarterly[q]; ok && q > 0 {
				add(d)
				continue
			}
			if (q == 0 || q == 4) && annual != nil {
				add(*annual)
			}
		}
	}
	return out
}
