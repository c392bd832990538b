// Package extraction turns raw filing payloads into ordered, typed content
// units with location descriptors.
package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/filing"
)

// Result is the outcome of extracting one filing.
type Result struct {
	Units       []filing.Unit
	CompanyName string
	CIK         string
	FilingDate  time.Time
	Period      time.Time
	Skipped     []Skipped
}

// Skipped records a segment left out of the result and why.
type Skipped struct {
	Segment string `json:"segment"`
	Reason  string `json:"reason"`
}

type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.L()
	}
	return &Extractor{logger: logger.Named("extraction")}
}

// Extract parses raw into units. A segment that fails to parse is skipped and
// recorded; the call only fails when nothing usable remains.
func (e *Extractor) Extract(ctx context.Context, raw *filing.RawFiling) (*Result, error) {
	if raw == nil || len(raw.Data) == 0 {
		return nil, eris.Wrap(filing.ErrParseFailure, "empty filing payload")
	}

	res := &Result{}
	format := DetectFormat(raw.Name, raw.Data)
	switch format {
	case FormatSubmission:
		h := ParseHeader(raw.Data)
		res.CompanyName, res.CIK, res.FilingDate, res.Period = h.CompanyName, h.CIK, h.FiledAt, h.PeriodOfReport

		primary := true
		for i, seg := range SplitSegments(raw.Data) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			label := seg.Label()
			if label == "" {
				label = fmt.Sprintf("segment %d", i+1)
			}
			if seg.Binary() {
				res.Skipped = append(res.Skipped, Skipped{Segment: label, Reason: "binary"})
				continue
			}
			path := label
			if primary {
				path = ""
			}
			units, err := e.segment(seg.Filename, seg.Body, path)
			if err != nil {
				e.logger.Warn("skipping segment", zap.String("segment", label), zap.Error(err))
				res.Skipped = append(res.Skipped, Skipped{Segment: label, Reason: err.Error()})
				continue
			}
			primary = false
			res.Units = append(res.Units, units...)
		}
	case FormatUnknown:
		return nil, eris.Wrapf(filing.ErrParseFailure, "unsupported payload %q", raw.Name)
	default:
		units, err := e.segment(raw.Name, raw.Data, "")
		if err != nil {
			return nil, err
		}
		res.Units = units
	}

	if res.CompanyName == "" {
		res.CompanyName = raw.CompanyName
	}
	if res.FilingDate.IsZero() {
		res.FilingDate = raw.FilingDate
	}
	if len(res.Units) == 0 {
		return nil, eris.Wrapf(filing.ErrParseFailure, "no content extracted from %q", raw.Name)
	}

	e.logger.Debug("extracted filing",
		zap.String("name", raw.Name),
		zap.String("format", string(format)),
		zap.Int("units", len(res.Units)),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

// segment extracts one payload. Panics from the format parsers become
// ErrParseFailure so a single malformed exhibit cannot abort ingestion.
func (e *Extractor) segment(name string, data []byte, path string) (units []filing.Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			units = nil
			err = eris.Wrapf(filing.ErrParseFailure, "panic while parsing %q: %v", name, r)
		}
	}()

	switch DetectFormat(name, data) {
	case FormatHTML:
		units, err = extractHTML(data, path)
	case FormatPDF:
		units, err = extractPDF(data, path)
	case FormatText:
		units = extractPlainText(string(data), path)
	default:
		return nil, eris.Wrapf(filing.ErrParseFailure, "unsupported segment %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(filing.ErrParseFailure, "%s: %v", name, err)
	}
	return units, nil
}
