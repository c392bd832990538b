package filing

import (
	"time"

	"github.com/rotisserie/eris"
)

// FilingRequest names one filing to ingest. Quarter is 0 for annual reports.
type FilingRequest struct {
	Ticker     string     `json:"ticker"`
	Year       int        `json:"year"`
	Quarter    int        `json:"quarter,omitempty"`
	FilingType FilingType `json:"filing_type"`
}

// Normalize validates the request and canonicalizes ticker and quarter.
// An annual request always carries quarter 0; a quarterly one needs 1-4.
func (r FilingRequest) Normalize() (FilingRequest, error) {
	r.Ticker = NormalizeTicker(r.Ticker)
	if r.Ticker == "" {
		return r, eris.Wrap(ErrInvalidRequest, "ticker is required")
	}
	if r.Year < 1993 || r.Year > 2100 {
		return r, eris.Wrapf(ErrInvalidRequest, "year %d out of range", r.Year)
	}
	switch r.FilingType {
	case TypeAnnual:
		r.Quarter = 0
	case TypeQuarterly:
		if r.Quarter < 1 || r.Quarter > 4 {
			return r, eris.Wrapf(ErrInvalidRequest, "quarterly filing needs quarter 1-4, got %d", r.Quarter)
		}
	default:
		ft, err := ParseFilingType(string(r.FilingType))
		if err != nil {
			return r, err
		}
		r.FilingType = ft
		return r.Normalize()
	}
	return r, nil
}

func (r FilingRequest) DocumentID() string {
	return DocumentID(r.Ticker, r.Year, r.Quarter, r.FilingType)
}

// Document builds the document record the request will produce.
func (r FilingRequest) Document() Document {
	return Document{
		ID:         r.DocumentID(),
		Ticker:     NormalizeTicker(r.Ticker),
		Year:       r.Year,
		Quarter:    r.Quarter,
		FilingType: r.FilingType,
	}
}

// RawFiling is a fetched filing payload plus whatever metadata the source
// already knows. Name is used for format detection.
type RawFiling struct {
	Name        string
	Data        []byte
	SourceURL   string
	FilingDate  time.Time
	CompanyName string
}
