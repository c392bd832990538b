package ingestion

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fabfab/filing-agent/filing"
)

// DefaultMaxChars is the chunk budget used when none is configured.
const DefaultMaxChars = 1500

// chunkNamespace seeds the UUIDv5 chunk ids.
var chunkNamespace = uuid.MustParse("6f1c2b0e-7f43-4d38-9a35-9d0c1f4f5e21")

// ChunkID is the deterministic id of the chunk at ordinal within a document.
func ChunkID(documentID string, ordinal int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s/%d", documentID, ordinal))).String()
}

// Chunker packs content units into bounded chunks. Text units merge forward
// until the budget or a section change; tables and charts always stand alone.
type Chunker struct {
	MaxChars int
}

func NewChunker(maxChars int) Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return Chunker{MaxChars: maxChars}
}

type pending struct {
	parts    []string
	size     int
	location filing.Location
}

// Chunk is a pure function of its inputs: the same units always give the
// same chunks, ids included.
func (c Chunker) Chunk(documentID string, units []filing.Unit) []filing.Chunk {
	budget := c.MaxChars
	if budget <= 0 {
		budget = DefaultMaxChars
	}

	var (
		out []filing.Chunk
		cur pending
	)
	emit := func(ct filing.ContentType, content string, loc filing.Location) {
		ordinal := len(out)
		out = append(out, filing.Chunk{
			ID:          ChunkID(documentID, ordinal),
			DocumentID:  documentID,
			Ordinal:     ordinal,
			ContentType: ct,
			Content:     content,
			Location:    loc,
		})
	}
	flush := func() {
		if len(cur.parts) > 0 {
			emit(filing.ContentText, strings.Join(cur.parts, "\n"), cur.location)
		}
		cur = pending{}
	}
	push := func(text string, loc filing.Location) {
		n := charLen(text)
		if len(cur.parts) > 0 && (!sameSection(cur.location, loc) || cur.size+1+n > budget) {
			flush()
		}
		if len(cur.parts) == 0 {
			cur.location = loc
			cur.size = n
		} else {
			cur.size += 1 + n
		}
		cur.parts = append(cur.parts, text)
	}

	for _, u := range units {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		switch u.Type {
		case filing.ContentTable, filing.ContentChart:
			flush()
			emit(u.Type, u.EmbeddableText(), u.Location)
		default:
			if charLen(text) <= budget {
				push(text, u.Location)
				continue
			}
			for _, piece := range splitText(text, budget) {
				push(piece, u.Location)
			}
		}
	}
	flush()
	return out
}

func sameSection(a, b filing.Location) bool {
	return a.Section == b.Section && a.Path == b.Path
}

func charLen(s string) int {
	return utf8.RuneCountInString(s)
}

// splitText breaks text into pieces no longer than budget, preferring
// sentence boundaries, then word boundaries, then a hard cut.
func splitText(text string, budget int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0
	add := func(s string) {
		n := charLen(s)
		if curLen > 0 && curLen+1+n > budget {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(s)
		curLen += n
	}

	for _, sentence := range sentences(text) {
		if charLen(sentence) <= budget {
			add(sentence)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			for charLen(word) > budget {
				r := []rune(word)
				add(string(r[:budget]))
				word = string(r[budget:])
			}
			add(word)
		}
	}
	if curLen > 0 {
		out = append(out, cur.String())
	}
	return out
}

// sentences splits after '.', '!' or '?' followed by whitespace and an
// upper-case letter or digit. Decimals such as "$10.9" never split.
func sentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes)-2; i++ {
		switch runes[i] {
		case '.', '!', '?':
		default:
			continue
		}
		if !unicode.IsSpace(runes[i+1]) {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j < len(runes) && (unicode.IsUpper(runes[j]) || unicode.IsDigit(runes[j])) {
			out = append(out, strings.TrimSpace(string(runes[start:i+1])))
			start = j
			i = j - 1
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}
