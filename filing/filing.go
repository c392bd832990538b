// Package filing defines the shared domain model: companies, periodic filings,
// their chunks, query scopes and cited answers.
package filing

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// FilingType identifies the SEC form of a periodic report.
type FilingType string

const (
	TypeAnnual    FilingType = "10-K"
	TypeQuarterly FilingType = "10-Q"
)

// ParseFilingType accepts "10-K", "10K", "annual" and their quarterly counterparts.
func ParseFilingType(raw string) (FilingType, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "")) {
	case "10K", "ANNUAL":
		return TypeAnnual, nil
	case "10Q", "QUARTERLY":
		return TypeQuarterly, nil
	default:
		return "", eris.Wrapf(ErrInvalidRequest, "unsupported filing type %q", raw)
	}
}

func (t FilingType) IsAnnual() bool { return t == TypeAnnual }

// Compact returns the form without the dash, as used in document ids.
func (t FilingType) Compact() string {
	return strings.ReplaceAll(string(t), "-", "")
}

type Company struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

// Document is one ingested filing. Quarter is 0 for annual reports.
type Document struct {
	ID         string     `json:"id"`
	Ticker     string     `json:"ticker"`
	Year       int        `json:"year"`
	Quarter    int        `json:"quarter"`
	FilingType FilingType `json:"filing_type"`
	FilingDate time.Time  `json:"filing_date"`
	SourceURL  string     `json:"source_url,omitempty"`
	IngestedAt time.Time  `json:"ingested_at"`
}

// DocumentID builds the stable composite id TICKER_YEAR_Q_TYPE. Annual
// filings use quarter 4.
func DocumentID(ticker string, year, quarter int, filingType FilingType) string {
	q := quarter
	if filingType.IsAnnual() || q == 0 {
		q = 4
	}
	return fmt.Sprintf("%s_%d_%d_%s", NormalizeTicker(ticker), year, q, filingType.Compact())
}

func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Period renders the human label used in prompts and citations, e.g. "FY2023" or "Q2 2024".
func (d Document) Period() string {
	if d.Quarter == 0 {
		return fmt.Sprintf("FY%d", d.Year)
	}
	return fmt.Sprintf("Q%d %d", d.Quarter, d.Year)
}

// ContentType tags what kind of content a unit or chunk carries.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentTable ContentType = "table"
	ContentChart ContentType = "chart"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentTable, ContentChart:
		return true
	}
	return false
}

// Location points at where content came from inside a filing.
type Location struct {
	Section string `json:"section,omitempty"`
	Page    int    `json:"page,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (l Location) String() string {
	parts := make([]string, 0, 3)
	if l.Section != "" {
		parts = append(parts, l.Section)
	}
	if l.Page > 0 {
		parts = append(parts, fmt.Sprintf("p. %d", l.Page))
	}
	if l.Path != "" {
		parts = append(parts, l.Path)
	}
	if len(parts) == 0 {
		return "document"
	}
	return strings.Join(parts, ", ")
}

// Unit is one piece of extracted content, before chunking.
type Unit struct {
	Type     ContentType
	Text     string
	Caption  string
	Location Location
}

// EmbeddableText is the text that represents the unit for similarity search.
func (u Unit) EmbeddableText() string {
	switch u.Type {
	case ContentTable:
		if u.Caption != "" {
			return "TABLE: " + u.Caption + "\n" + u.Text
		}
		return u.Text
	case ContentChart:
		if u.Caption != "" && !strings.HasPrefix(u.Text, u.Caption) {
			return "CHART: " + u.Caption + "\n" + u.Text
		}
		return "CHART: " + u.Text
	default:
		return u.Text
	}
}

// Chunk is the unit of retrieval. CreatedAt is assigned by the store.
type Chunk struct {
	ID          string      `json:"id"`
	DocumentID  string      `json:"document_id"`
	Ordinal     int         `json:"ordinal"`
	ContentType ContentType `json:"content_type"`
	Content     string      `json:"content"`
	Location    Location    `json:"location"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Embedding is the vector for exactly one chunk.
type Embedding []float32
