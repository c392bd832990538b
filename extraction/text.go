package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/fabfab/filing-agent/filing"
)

// maxHeadingLen bounds how long a block may be and still count as a heading.
const maxHeadingLen = 160

var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^ITEM\s+\d{1,2}[A-C]?\b\.?`),
	regexp.MustCompile(`(?i)^PART\s+[IV]{1,3}\b\.?`),
	regexp.MustCompile(`(?i)^NOTES?\s+TO\s+(THE\s+)?CONSOLIDATED\s+FINANCIAL\s+STATEMENTS`),
	regexp.MustCompile(`(?i)^MANAGEMENT['’]?S\s+DISCUSSION\s+AND\s+ANALYSIS`),
	regexp.MustCompile(`(?i)^RISK\s+FACTORS\.?$`),
	regexp.MustCompile(`(?i)^FINANCIAL\s+STATEMENTS\s+AND\s+SUPPLEMENTARY\s+DATA`),
	regexp.MustCompile(`(?i)^BUSINESS\.?$`),
}

var (
	pageNumberLine = regexp.MustCompile(`(?i)^(page\s+)?\d{1,3}$`)
	tocLine        = regexp.MustCompile(`(?i)^(table of contents|index to (consolidated )?financial statements)$`)
	continuedMark  = regexp.MustCompile(`\s*\([Cc]ontinued\)`)
)

// clean NFKC-normalizes s and collapses all whitespace runs to one space.
func clean(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// sectionHeading reports whether text is a filing section heading and
// returns the label to record on units that follow it.
func sectionHeading(text string) (string, bool) {
	if text == "" || len(text) > maxHeadingLen {
		return "", false
	}
	for _, p := range sectionPatterns {
		loc := p.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if !headingTail(strings.Trim(text[loc[1]:], " .:-\u2013\u2014")) {
			return "", false
		}
		return strings.TrimRight(text, " .:"), true
	}
	return "", false
}

var sentenceBreak = regexp.MustCompile(`[.!?;]\s+\S`)

// headingTail reports whether the words after a heading marker read as a
// title ("Risk Factors", "MANAGEMENT'S DISCUSSION ...") rather than prose
// that happens to start with "Item 7" or "Part I".
func headingTail(tail string) bool {
	if tail == "" {
		return true
	}
	if strings.ContainsAny(tail, "$%") || sentenceBreak.MatchString(tail) {
		return false
	}
	for _, r := range tail {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			break
		}
	}
	long, capitalized := 0, 0
	for _, w := range strings.Fields(tail) {
		word := []rune(strings.Trim(w, "()[],;:.'\"\u2019"))
		if len(word) < 4 {
			continue
		}
		long++
		if unicode.IsUpper(word[0]) {
			capitalized++
		}
	}
	return long == 0 || capitalized*2 >= long
}

// isNoise matches running headers, footers and navigation crumbs.
func isNoise(text string) bool {
	return pageNumberLine.MatchString(text) || tocLine.MatchString(text)
}

// unitBuilder accumulates units while tracking the current section and page.
type unitBuilder struct {
	units   []filing.Unit
	section string
	page    int
	path    string
}

func (b *unitBuilder) location(path string) filing.Location {
	if b.path != "" {
		if path == "" {
			path = b.path
		} else {
			path = b.path + " / " + path
		}
	}
	return filing.Location{Section: b.section, Page: b.page, Path: path}
}

// addText records a cleaned text block, turning headings into section changes.
func (b *unitBuilder) addText(raw string) {
	text := continuedMark.ReplaceAllString(clean(raw), "")
	text = strings.TrimSpace(text)
	if text == "" || isNoise(text) {
		return
	}
	if label, ok := sectionHeading(text); ok {
		b.section = label
		return
	}
	b.units = append(b.units, filing.Unit{Type: filing.ContentText, Text: text, Location: b.location("")})
}

func (b *unitBuilder) add(u filing.Unit, path string) {
	u.Location = b.location(path)
	b.units = append(b.units, u)
}

// extractPlainText splits text into paragraph units. Form feeds mark pages.
func extractPlainText(content string, path string) []filing.Unit {
	b := &unitBuilder{path: path}
	pages := strings.Split(content, "\f")
	for i, page := range pages {
		if len(pages) > 1 {
			b.page = i + 1
		}
		b.plainText(page)
	}
	return b.units
}

// plainText adds paragraphs separated by blank lines. A heading line closes
// the paragraph before it even without a blank line.
func (b *unitBuilder) plainText(content string) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	var para []string
	flush := func() {
		if len(para) > 0 {
			b.addText(strings.Join(para, " "))
			para = para[:0]
		}
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		if _, ok := sectionHeading(clean(line)); ok {
			flush()
			b.addText(line)
			continue
		}
		para = append(para, line)
	}
	flush()
}
