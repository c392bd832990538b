package extraction

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"

	"github.com/fabfab/filing-agent/filing"
)

var skipTags = map[string]bool{
	"head": true, "script": true, "style": true, "noscript": true, "title": true,
	"ix:header": true, "ix:hidden": true, "template": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "center": true, "dd": true, "dt": true, "body": true,
}

// maxColspan caps colspan repetition for malformed tables.
const maxColspan = 12

// captionCandidateLen bounds the text block that may caption a following table.
const captionCandidateLen = 150

// blankCell stands in for an empty data cell so later values keep their column.
const blankCell = "-"

type htmlWalker struct {
	unitBuilder
	buf bytes.Buffer
	// cssPaged is set when the document marks pages with CSS; <hr> is then ignored.
	cssPaged bool
	tables   int
	figures  int
	lastText string
}

// extractHTML walks the DOM and emits text, table and chart units in document order.
func extractHTML(data []byte, path string) ([]filing.Unit, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "parse html")
	}

	lower := bytes.ToLower(data)
	w := &htmlWalker{unitBuilder: unitBuilder{path: path}}
	w.cssPaged = bytes.Contains(lower, []byte("page-break-")) || bytes.Contains(lower, []byte("break-before:page"))
	if w.cssPaged || bytes.Contains(lower, []byte("<hr")) {
		w.page = 1
	}

	w.walk(root)
	w.flush()
	return w.units, nil
}

func (w *htmlWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.buf.WriteString(n.Data)
		return
	case html.DocumentNode:
		w.children(n)
		return
	case html.ElementNode:
	default:
		return
	}

	tag := strings.ToLower(n.Data)
	if skipTags[tag] || isHidden(n) {
		return
	}

	style := normalizedStyle(n)
	if w.cssPaged && (strings.Contains(style, "page-break-before:always") || strings.Contains(style, "break-before:page")) {
		w.newPage()
	}

	switch tag {
	case "table":
		w.flush()
		w.table(n)
	case "figure":
		w.flush()
		w.figure(n)
	case "svg":
		w.flush()
		if u, ok := summarizeSVG(n); ok {
			w.chart(u)
		}
	case "img":
		w.flush()
		if u, ok := summarizeImage(n); ok {
			w.chart(u)
		}
	case "hr":
		if !w.cssPaged {
			w.newPage()
		}
	case "br":
		w.buf.WriteByte('\n')
	case "td", "th":
		w.children(n)
		w.buf.WriteByte(' ')
	default:
		block := blockTags[tag]
		if block {
			w.flush()
		}
		w.children(n)
		if block {
			w.flush()
		}
	}

	if w.cssPaged && (strings.Contains(style, "page-break-after:always") || strings.Contains(style, "break-after:page")) {
		w.newPage()
	}
}

func (w *htmlWalker) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *htmlWalker) newPage() {
	w.flush()
	w.page++
}

func (w *htmlWalker) flush() {
	raw := w.buf.String()
	w.buf.Reset()
	before := len(w.units)
	w.addText(raw)
	if len(w.units) > before {
		w.lastText = w.units[len(w.units)-1].Text
	} else if strings.TrimSpace(raw) != "" {
		w.lastText = ""
	}
}

func (w *htmlWalker) chart(u filing.Unit) {
	w.figures++
	w.add(u, fmt.Sprintf("figure %d", w.figures))
	w.lastText = ""
}

func (w *htmlWalker) table(n *html.Node) {
	caption := ""
	var rows [][]string
	collectRows(n, &rows, &caption)

	nonEmpty := 0
	var cells []string
	for _, row := range rows {
		for _, c := range row {
			if c != "" {
				nonEmpty++
				cells = append(cells, c)
			}
		}
	}
	switch {
	case nonEmpty == 0:
		return
	case nonEmpty == 1 || (len(rows) == 1 && nonEmpty <= 3):
		// Layout table: keep the content as prose so headings still register.
		w.buf.WriteString(caption + " " + strings.Join(cells, " "))
		w.flush()
		return
	}

	grid := compactTable(rows)
	lines := make([]string, 0, len(grid))
	for _, row := range grid {
		rendered := make([]string, len(row))
		for i, c := range row {
			if c == "" {
				c = blankCell
			}
			rendered[i] = c
		}
		lines = append(lines, strings.Join(rendered, " | "))
	}

	if caption == "" && w.lastText != "" && len(w.lastText) <= captionCandidateLen && !strings.HasSuffix(w.lastText, ".") {
		caption = w.lastText
	}

	w.tables++
	w.add(filing.Unit{
		Type:    filing.ContentTable,
		Text:    strings.Join(lines, "\n"),
		Caption: caption,
	}, fmt.Sprintf("table %d", w.tables))
	w.lastText = ""
}

// collectRows gathers the rows of a table without descending into nested tables.
// Cells are cleaned and colspan is expanded by repetition, empty cells
// included, so every row keeps its column positions.
func collectRows(n *html.Node, rows *[][]string, caption *string) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || isHidden(c) {
			continue
		}
		switch strings.ToLower(c.Data) {
		case "caption":
			*caption = clean(textContent(c))
		case "tr":
			var row []string
			for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.Type != html.ElementNode {
					continue
				}
				tag := strings.ToLower(cell.Data)
				if tag != "td" && tag != "th" {
					continue
				}
				text := clean(textContent(cell))
				span := 1
				if v, err := strconv.Atoi(attr(cell, "colspan")); err == nil && v > 1 {
					span = min(v, maxColspan)
				}
				for i := 0; i < span; i++ {
					row = append(row, text)
				}
			}
			*rows = append(*rows, row)
		case "table":
		default:
			collectRows(c, rows, caption)
		}
	}
}

func isPrefixMarker(c string) bool {
	return c == "$" || c == "€" || c == "£" || c == "(" || c == "$("
}

func isSuffixMarker(c string) bool {
	return c == ")" || c == "%" || c == ")%" || c == "%)"
}

// glueMarkers moves currency, sign and percent cells onto the figure they
// belong to. The row keeps its length; a glued marker leaves an empty cell.
func glueMarkers(row []string) []string {
	out := append([]string(nil), row...)
	pending, pendingAt, last := "", -1, -1
	for i, c := range out {
		switch {
		case c == "":
		case isPrefixMarker(c):
			if pendingAt < 0 {
				pendingAt = i
			}
			pending += c
			out[i] = ""
		case isSuffixMarker(c) && last >= 0 && pending == "":
			out[last] += c
			out[i] = ""
		default:
			out[i] = pending + c
			pending, pendingAt = "", -1
			last = i
		}
	}
	if pending != "" {
		out[pendingAt] = pending
	}
	return out
}

// compactTable aligns rows to one width, glues markers and folds spacer and
// colspan columns into their neighbour. Adjacent columns fold only when they
// never hold different values in one row and either one is empty or they
// repeat a spanned cell, so blank data cells keep their place. Rows left
// without any value are dropped.
func compactTable(rows [][]string) [][]string {
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	grid := make([][]string, 0, len(rows))
	for _, row := range rows {
		row = glueMarkers(row)
		for len(row) < width {
			row = append(row, "")
		}
		grid = append(grid, row)
	}
	if width == 0 {
		return nil
	}

	cols := [][]string{column(grid, 0)}
	for j := 1; j < width; j++ {
		next := column(grid, j)
		prev := cols[len(cols)-1]
		if foldable(prev, next) {
			for i, c := range next {
				if prev[i] == "" {
					prev[i] = c
				}
			}
			continue
		}
		cols = append(cols, next)
	}

	out := make([][]string, 0, len(grid))
	for i := range grid {
		row := make([]string, len(cols))
		empty := true
		for j, col := range cols {
			row[j] = col[i]
			if col[i] != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, row)
		}
	}
	return out
}

func column(grid [][]string, j int) []string {
	col := make([]string, len(grid))
	for i, row := range grid {
		col[i] = row[j]
	}
	return col
}

func foldable(a, b []string) bool {
	shared, aEmpty, bEmpty := false, true, true
	for i := range a {
		if a[i] != "" {
			aEmpty = false
		}
		if b[i] != "" {
			bEmpty = false
		}
		if a[i] != "" && b[i] != "" {
			if a[i] != b[i] {
				return false
			}
			shared = true
		}
	}
	return shared || aEmpty || bEmpty
}

func (w *htmlWalker) figure(n *html.Node) {
	var caption string
	var parts, labels []string
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type == html.TextNode {
			if t := clean(c.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		if c.Type != html.ElementNode || skipTags[strings.ToLower(c.Data)] {
			return
		}
		switch strings.ToLower(c.Data) {
		case "figcaption":
			caption = clean(textContent(c))
			return
		case "img":
			if u, ok := summarizeImage(c); ok {
				parts = append(parts, u.Text)
			}
			return
		case "svg":
			if u, ok := summarizeSVG(c); ok {
				if caption == "" {
					caption = u.Caption
				}
				parts = append(parts, u.Text)
			}
			return
		case "table":
			var rows [][]string
			var tc string
			collectRows(c, &rows, &tc)
			for _, row := range rows {
				var cells []string
				for _, c := range glueMarkers(row) {
					if c != "" {
						cells = append(cells, c)
					}
				}
				if len(cells) > 0 {
					labels = append(labels, strings.Join(cells, " "))
				}
			}
			return
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			visit(gc)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visit(c)
	}

	if len(labels) > 0 {
		parts = append(parts, "Data: "+strings.Join(labels, "; "))
	}
	text := strings.Join(parts, ". ")
	if caption == "" && text == "" {
		return
	}
	if text == "" {
		text = caption
	}
	w.chart(filing.Unit{Type: filing.ContentChart, Text: text, Caption: caption})
}

// summarizeImage describes an <img> from its alt and title attributes.
// Decorative images without either are skipped.
func summarizeImage(n *html.Node) (filing.Unit, bool) {
	alt := clean(attr(n, "alt"))
	title := clean(attr(n, "title"))
	switch {
	case alt == "" && title == "":
		return filing.Unit{}, false
	case alt == "" || alt == title:
		return filing.Unit{Type: filing.ContentChart, Text: title, Caption: title}, true
	case title == "":
		return filing.Unit{Type: filing.ContentChart, Text: alt}, true
	default:
		return filing.Unit{Type: filing.ContentChart, Text: title + ". " + alt, Caption: title}, true
	}
}

// summarizeSVG turns an inline chart into its title, description and the
// axis and data labels drawn as <text>.
func summarizeSVG(n *html.Node) (filing.Unit, bool) {
	var title, desc string
	var labels []string
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type != html.ElementNode {
			return
		}
		switch strings.ToLower(c.Data) {
		case "title":
			if title == "" {
				title = clean(textContent(c))
			}
			return
		case "desc":
			if desc == "" {
				desc = clean(textContent(c))
			}
			return
		case "text":
			if t := clean(textContent(c)); t != "" {
				labels = append(labels, t)
			}
			return
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			visit(gc)
		}
	}
	visit(n)
	if title == "" {
		title = clean(attr(n, "aria-label"))
	}

	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if desc != "" {
		parts = append(parts, desc)
	}
	if len(labels) > 0 {
		parts = append(parts, "Labels: "+strings.Join(labels, ", "))
	}
	if len(parts) == 0 {
		return filing.Unit{}, false
	}
	return filing.Unit{Type: filing.ContentChart, Text: strings.Join(parts, ". "), Caption: title}, true
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
			return
		case html.ElementNode:
			tag := strings.ToLower(c.Data)
			if skipTags[tag] || isHidden(c) {
				return
			}
			if tag == "br" || blockTags[tag] {
				sb.WriteByte(' ')
			}
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			visit(gc)
		}
		if c.Type == html.ElementNode && separatesText(c) {
			sb.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visit(c)
	}
	return sb.String()
}

func separatesText(n *html.Node) bool {
	tag := strings.ToLower(n.Data)
	return blockTags[tag] || tag == "td" || tag == "th" || tag == "tr"
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func normalizedStyle(n *html.Node) string {
	return strings.ToLower(strings.ReplaceAll(attr(n, "style"), " ", ""))
}

func isHidden(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if _, ok := attrOK(n, "hidden"); ok {
		return true
	}
	return strings.Contains(normalizedStyle(n), "display:none")
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}
