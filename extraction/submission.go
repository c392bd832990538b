package extraction

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Header is the metadata carried in an EDGAR <SEC-HEADER> block.
type Header struct {
	CompanyName    string
	CIK            string
	FormType       string
	FiledAt        time.Time
	PeriodOfReport time.Time
	FiscalYearEnd  string
}

// Segment is one <DOCUMENT> of a submission.
type Segment struct {
	Type     string
	Sequence string
	Filename string
	Body     []byte
}

var (
	headerBlock   = regexp.MustCompile(`(?is)<SEC-HEADER>(.*?)</SEC-HEADER>`)
	filedAsOf     = regexp.MustCompile(`FILED AS OF DATE:\s*(\d{8})`)
	companyName   = regexp.MustCompile(`(?m)COMPANY CONFORMED NAME:\s*(.+?)\s*$`)
	centralIndex  = regexp.MustCompile(`CENTRAL INDEX KEY:\s*(\d+)`)
	periodReport  = regexp.MustCompile(`CONFORMED PERIOD OF REPORT:\s*(\d{8})`)
	submissionTyp = regexp.MustCompile(`(?m)CONFORMED SUBMISSION TYPE:\s*(\S+)`)
	fiscalYearEnd = regexp.MustCompile(`FISCAL YEAR END:\s*(\d{4})`)

	documentBlock = regexp.MustCompile(`(?s)<DOCUMENT>(.*?)</DOCUMENT>`)
	typeTag       = regexp.MustCompile(`(?m)<TYPE>\s*([^\n<]+)`)
	sequenceTag   = regexp.MustCompile(`(?m)<SEQUENCE>\s*([^\n<]+)`)
	filenameTag   = regexp.MustCompile(`(?m)<FILENAME>\s*([^\n<]+)`)
	textBlock     = regexp.MustCompile(`(?s)<TEXT>(.*?)(?:</TEXT>|$)`)
)

// binarySegmentTypes never carry prose worth indexing.
var binarySegmentTypes = map[string]bool{
	"GRAPHIC": true, "ZIP": true, "EXCEL": true, "XML": true, "JSON": true, "PDF": true,
}

// ParseHeader extracts filing metadata from a full submission. Missing fields
// stay zero.
func ParseHeader(data []byte) Header {
	var h Header
	m := headerBlock.FindSubmatch(data)
	if m == nil {
		return h
	}
	block := m[1]

	if v := companyName.FindSubmatch(block); v != nil {
		h.CompanyName = strings.TrimSpace(string(v[1]))
	}
	if v := centralIndex.FindSubmatch(block); v != nil {
		h.CIK = string(v[1])
	}
	if v := submissionTyp.FindSubmatch(block); v != nil {
		h.FormType = string(v[1])
	}
	if v := fiscalYearEnd.FindSubmatch(block); v != nil {
		h.FiscalYearEnd = string(v[1])
	}
	if v := filedAsOf.FindSubmatch(block); v != nil {
		h.FiledAt, _ = time.Parse("20060102", string(v[1]))
	}
	if v := periodReport.FindSubmatch(block); v != nil {
		h.PeriodOfReport, _ = time.Parse("20060102", string(v[1]))
	}
	return h
}

// SplitSegments returns the <DOCUMENT> blocks of a submission in order.
func SplitSegments(data []byte) []Segment {
	var out []Segment
	for _, m := range documentBlock.FindAllSubmatch(data, -1) {
		block := m[1]
		seg := Segment{}
		if v := typeTag.FindSubmatch(block); v != nil {
			seg.Type = strings.ToUpper(strings.TrimSpace(string(v[1])))
		}
		if v := sequenceTag.FindSubmatch(block); v != nil {
			seg.Sequence = strings.TrimSpace(string(v[1]))
		}
		if v := filenameTag.FindSubmatch(block); v != nil {
			seg.Filename = strings.TrimSpace(string(v[1]))
		}
		if v := textBlock.FindSubmatch(block); v != nil {
			seg.Body = bytes.TrimLeft(v[1], "\r\n")
		}
		out = append(out, seg)
	}
	return out
}

// Binary reports whether the segment should be skipped outright.
func (s Segment) Binary() bool {
	if binarySegmentTypes[s.Type] || strings.HasPrefix(s.Type, "EX-101") {
		return true
	}
	if binaryExtensions[strings.ToLower(filepath.Ext(s.Filename))] {
		return true
	}
	body := strings.TrimSpace(string(s.Body[:min(len(s.Body), 64)]))
	return strings.HasPrefix(body, "<PDF>") || strings.HasPrefix(body, "begin ")
}

// Label is the structural path prefix for units from this segment.
func (s Segment) Label() string {
	if s.Type != "" {
		return s.Type
	}
	return s.Filename
}
