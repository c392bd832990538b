package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/filing"
)

const annualReportHTML = `<html><head><title>aapl-20230930</title><style>p { margin: 0 }</style></head><body>
<div style="display: none"><ix:header>hidden facts</ix:header></div>
<script>var x = 1;</script>
<p>Apple Inc.</p>
<hr/>
<p style="font-weight:bold">PART I</p>
<p>Item 1. Business</p>
<p>The Company designs, manufactures and markets smartphones.</p>
<hr/>
<p>Item 7. Management’s Discussion and Analysis of Financial Condition and Results of Operations</p>
<p>Total net sales decreased 3% or $10.9 billion during 2023 compared to 2022.</p>
<p>Net sales by category</p>
<table>
<tr><td></td><td colspan="2">2023</td><td colspan="2">2022</td></tr>
<tr><td>iPhone</td><td>$</td><td>200,583</td><td>$</td><td>205,489</td></tr>
<tr><td>Services</td><td>$</td><td>85,200</td><td>$</td><td>78,129</td></tr>
</table>
<table><tr><td>Item 8.</td><td>Financial Statements and Supplementary Data</td></tr></table>
<figure><svg><title>Net sales by segment</title><desc>Bar chart of net sales</desc><text>Americas</text><text>Europe</text></svg><figcaption>Segment net sales</figcaption></figure>
<img src="logo.jpg">
</body></html>`

const submission = `<SEC-DOCUMENT>0000320193-23-000106.txt : 20231103
<SEC-HEADER>0000320193-23-000106.hdr.sgml : 20231103
ACCESSION NUMBER:		0000320193-23-000106
CONFORMED SUBMISSION TYPE:	10-K
CONFORMED PERIOD OF REPORT:	20230930
FILED AS OF DATE:		20231103
FILER:
	COMPANY DATA:
		COMPANY CONFORMED NAME:			Apple Inc.
		CENTRAL INDEX KEY:			0000320193
		FISCAL YEAR END:			0930
</SEC-HEADER>
<DOCUMENT>
<TYPE>10-K
<SEQUENCE>1
<FILENAME>aapl-20230930.htm
<DESCRIPTION>10-K
<TEXT>
<XBRL>
` + annualReportHTML + `
</XBRL>
</TEXT>
</DOCUMENT>
<DOCUMENT>
<TYPE>EX-99.1
<SEQUENCE>2
<FILENAME>ex991.pdf
<TEXT>
%PDF-1.4 broken
</TEXT>
</DOCUMENT>
<DOCUMENT>
<TYPE>GRAPHIC
<SEQUENCE>3
<FILENAME>chart.jpg
<TEXT>
begin 644 chart.jpg
M_]C_X
end
</TEXT>
</DOCUMENT>
<DOCUMENT>
<TYPE>EX-31.1
<SEQUENCE>4
<FILENAME>ex311.txt
<TEXT>
I, Tim Cook, certify that I have reviewed this annual report.
</TEXT>
</DOCUMENT>
</SEC-DOCUMENT>
`

func TestExtractSubmission(t *testing.T) {
	ex := NewExtractor(zap.NewNop())
	res, err := ex.Extract(context.Background(), &filing.RawFiling{Name: "0000320193-23-000106.txt", Data: []byte(submission)})
	require.NoError(t, err)

	assert.Equal(t, "Apple Inc.", res.CompanyName)
	assert.Equal(t, "0000320193", res.CIK)
	assert.Equal(t, time.Date(2023, 11, 3, 0, 0, 0, 0, time.UTC), res.FilingDate)
	assert.Equal(t, time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC), res.Period)

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "EX-99.1", res.Skipped[0].Segment)
	assert.Equal(t, Skipped{Segment: "GRAPHIC", Reason: "binary"}, res.Skipped[1])

	require.Len(t, res.Units, 7)
	item7 := "Item 7. Management’s Discussion and Analysis of Financial Condition and Results of Operations"

	assert.Equal(t, filing.Unit{Type: filing.ContentText, Text: "Apple Inc.", Location: filing.Location{Page: 1}}, res.Units[0])
	assert.Equal(t, filing.Location{Section: "Item 1. Business", Page: 2}, res.Units[1].Location)
	assert.Equal(t, filing.Location{Section: item7, Page: 3}, res.Units[2].Location)
	assert.Equal(t, "Net sales by category", res.Units[3].Text)

	table := res.Units[4]
	assert.Equal(t, filing.ContentTable, table.Type)
	assert.Equal(t, "Net sales by category", table.Caption)
	assert.Equal(t, "- | 2023 | 2022\niPhone | $200,583 | $205,489\nServices | $85,200 | $78,129", table.Text)
	assert.Equal(t, filing.Location{Section: item7, Page: 3, Path: "table 1"}, table.Location)

	chart := res.Units[5]
	assert.Equal(t, filing.ContentChart, chart.Type)
	assert.Equal(t, "Segment net sales", chart.Caption)
	assert.Equal(t, "Net sales by segment. Bar chart of net sales. Labels: Americas, Europe", chart.Text)
	assert.Equal(t, "Item 8. Financial Statements and Supplementary Data", chart.Location.Section)
	assert.Equal(t, "figure 1", chart.Location.Path)

	exhibit := res.Units[6]
	assert.Equal(t, "I, Tim Cook, certify that I have reviewed this annual report.", exhibit.Text)
	assert.Equal(t, "EX-31.1", exhibit.Location.Path)

	for _, u := range res.Units {
		assert.NotContains(t, u.Text, "hidden facts")
		assert.NotContains(t, u.Text, "var x")
	}
}

func TestExtractBareHTMLFallsBackToSourceMetadata(t *testing.T) {
	filed := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	raw := &filing.RawFiling{
		Name:        "aapl-20240330.htm",
		Data:        []byte(`<html><body><table><caption>Revenue</caption><tr><th>Segment</th><th>Q2</th></tr><tr><td>Mac</td><td>7,451</td></tr></table></body></html>`),
		FilingDate:  filed,
		CompanyName: "Apple Inc.",
	}
	res, err := NewExtractor(nil).Extract(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, "Apple Inc.", res.CompanyName)
	assert.Equal(t, filed, res.FilingDate)
	require.Len(t, res.Units, 1)
	assert.Equal(t, "Revenue", res.Units[0].Caption)
	assert.Equal(t, "Segment | Q2\nMac | 7,451", res.Units[0].Text)
	assert.Equal(t, 0, res.Units[0].Location.Page)
}

func TestExtractLayoutTableBecomesText(t *testing.T) {
	units, err := extractHTML([]byte(`<table><tr><td><p>Our results depend on consumer demand.</p></td></tr></table>`), "")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, filing.ContentText, units[0].Type)
	assert.Equal(t, "Our results depend on consumer demand.", units[0].Text)
}

func TestExtractCSSPageBreaks(t *testing.T) {
	doc := `<div>First page text.</div>
<div style="page-break-after: always"></div>
<hr/>
<div>Second page text.</div>`
	units, err := extractHTML([]byte(doc), "")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, 1, units[0].Location.Page)
	assert.Equal(t, 2, units[1].Location.Page)
}

func TestExtractImageAltBecomesChart(t *testing.T) {
	units, err := extractHTML([]byte(`<p>Intro paragraph.</p><img src="g1.jpg" alt="Five-year cumulative total return comparison">`), "")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, filing.ContentChart, units[1].Type)
	assert.Equal(t, "Five-year cumulative total return comparison", units[1].Text)
}

func TestExtractRejectsEmptyAndUnknown(t *testing.T) {
	ex := NewExtractor(zap.NewNop())

	_, err := ex.Extract(context.Background(), &filing.RawFiling{Name: "x.htm"})
	assert.True(t, errors.Is(err, filing.ErrParseFailure))

	_, err = ex.Extract(context.Background(), &filing.RawFiling{Name: "chart.jpg", Data: []byte{0xff, 0xd8, 0xff}})
	assert.True(t, errors.Is(err, filing.ErrParseFailure))

	_, err = ex.Extract(context.Background(), &filing.RawFiling{Name: "broken.pdf", Data: []byte("%PDF-1.4 garbage")})
	assert.True(t, errors.Is(err, filing.ErrParseFailure))
}

func TestExtractPlainTextPagesAndSections(t *testing.T) {
	text := "PART II\nITEM 7. MANAGEMENT'S DISCUSSION AND ANALYSIS\nRevenue grew\nstrongly this year.\n\nMargins held.\fItem 8. Financial Statements\nBalance sheet follows."
	units := extractPlainText(text, "")
	require.Len(t, units, 3)

	assert.Equal(t, "Revenue grew strongly this year.", units[0].Text)
	assert.Equal(t, filing.Location{Section: "ITEM 7. MANAGEMENT'S DISCUSSION AND ANALYSIS", Page: 1}, units[0].Location)
	assert.Equal(t, "Margins held.", units[1].Text)
	assert.Equal(t, filing.Location{Section: "Item 8. Financial Statements", Page: 2}, units[2].Location)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatPDF, DetectFormat("report.bin", []byte("%PDF-1.7\n...")))
	assert.Equal(t, FormatSubmission, DetectFormat("0001.txt", []byte("<SEC-DOCUMENT>x\n<SEC-HEADER>")))
	assert.Equal(t, FormatHTML, DetectFormat("aapl.htm", []byte("anything")))
	assert.Equal(t, FormatHTML, DetectFormat("noext", []byte("<!DOCTYPE html><html></html>")))
	assert.Equal(t, FormatText, DetectFormat("notes.txt", []byte("Plain words only.")))
	assert.Equal(t, FormatUnknown, DetectFormat("pic.png", []byte("<html>")))
	assert.Equal(t, FormatUnknown, DetectFormat("blob", []byte{0x00, 0x01, 0x02}))
}

func TestGlueMarkersKeepsPositions(t *testing.T) {
	assert.Equal(t, []string{"Gross margin", "", "44.1%", "", "", "$(1,234)", ""},
		glueMarkers([]string{"Gross margin", "", "44.1", "%", "$(", "1,234", ")"}))
	assert.Equal(t, []string{"Total", "$"}, glueMarkers([]string{"Total", "$"}))
	assert.Equal(t, []string{"", ""}, glueMarkers([]string{"", ""}))
}

func TestCompactTable(t *testing.T) {
	tests := []struct {
		name string
		rows [][]string
		want [][]string
	}{
		{
			name: "blank data cell keeps its column",
			rows: [][]string{
				{"Metric", "2023", "2022"},
				{"Revenue", "100", "90"},
				{"Restructuring", "", "5"},
			},
			want: [][]string{
				{"Metric", "2023", "2022"},
				{"Revenue", "100", "90"},
				{"Restructuring", "", "5"},
			},
		},
		{
			name: "spanned headers over currency columns",
			rows: [][]string{
				{"", "2023", "2023", "", "2022", "2022"},
				{"Restructuring", "$", "12", "", "", ""},
				{"Net income", "$", "(1,234", ")", "$", "99"},
			},
			want: [][]string{
				{"", "2023", "2022"},
				{"Restructuring", "$12", ""},
				{"Net income", "$(1,234)", "$99"},
			},
		},
		{
			name: "ragged rows and empty rows",
			rows: [][]string{
				{"Segment", "Q2"},
				{"", ""},
				{"Mac"},
			},
			want: [][]string{
				{"Segment", "Q2"},
				{"Mac", ""},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compactTable(tt.rows))
		})
	}
}

func TestExtractTableBlankCellStaysAligned(t *testing.T) {
	units, err := extractHTML([]byte(`<table>
<tr><th>Metric</th><th>2023</th><th>2022</th></tr>
<tr><td>Revenue</td><td>100</td><td>90</td></tr>
<tr><td>Restructuring</td><td></td><td>5</td></tr>
</table>`), "")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, filing.ContentTable, units[0].Type)
	assert.Equal(t, "Metric | 2023 | 2022\nRevenue | 100 | 90\nRestructuring | - | 5", units[0].Text)
}

func TestSectionHeading(t *testing.T) {
	for _, h := range []string{"Item 1A. Risk Factors", "PART II", "Notes to Consolidated Financial Statements", "Risk Factors", "BUSINESS"} {
		_, ok := sectionHeading(h)
		assert.True(t, ok, h)
	}
	for _, p := range []string{
		"Risk factors described below could hurt us.",
		"Our business grew.",
		"Item 7 below discusses revenue of $383 billion.",
		"Item 1A describes the risks we face",
		"PART I. It covers our business. See also Item 8.",
	} {
		_, ok := sectionHeading(p)
		assert.False(t, ok, p)
	}
}

func TestPlainTextKeepsCrossReferenceParagraph(t *testing.T) {
	units := extractPlainText("Item 7. Management's Discussion and Analysis\n\nItem 7 below discusses revenue of $383 billion.\n", "")
	require.Len(t, units, 1)
	assert.Equal(t, "Item 7 below discusses revenue of $383 billion.", units[0].Text)
	assert.Equal(t, "Item 7. Management's Discussion and Analysis", units[0].Location.Section)
}

func TestCleanNormalizesUnicode(t *testing.T) {
	assert.Equal(t, "financial results 2023", clean("ﬁnancial results \n\t 2023"))
}

func TestParseHeaderWithoutHeader(t *testing.T) {
	assert.Equal(t, Header{}, ParseHeader([]byte("<html></html>")))
}
