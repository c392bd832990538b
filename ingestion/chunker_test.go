package ingestion

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/filing-agent/filing"
)

const docID = "AAPL_2023_4_10K"

func text(s, section string, page int) filing.Unit {
	return filing.Unit{Type: filing.ContentText, Text: s, Location: filing.Location{Section: section, Page: page}}
}

func TestChunkIsDeterministic(t *testing.T) {
	units := []filing.Unit{
		text("Total net sales decreased 3% during 2023.", "Item 7", 30),
		{Type: filing.ContentTable, Caption: "Net sales", Text: "iPhone | $200,583", Location: filing.Location{Section: "Item 7", Page: 31, Path: "table 1"}},
		text("Gross margin was 44.1%.", "Item 7", 31),
	}
	c := NewChunker(100)

	first := c.Chunk(docID, units)
	second := c.Chunk(docID, units)
	assert.Equal(t, first, second)

	for i, chunk := range first {
		assert.Equal(t, i, chunk.Ordinal)
		assert.Equal(t, ChunkID(docID, i), chunk.ID)
		assert.Equal(t, docID, chunk.DocumentID)
	}
	assert.NotEqual(t, ChunkID(docID, 0), ChunkID("AAPL_2022_4_10K", 0))
}

func TestChunkMergesTextWithinBudget(t *testing.T) {
	c := NewChunker(30)
	chunks := c.Chunk(docID, []filing.Unit{
		text("Revenue grew.", "Item 7", 1),
		text("Costs fell.", "Item 7", 2),
		text("Cash rose sharply.", "Item 7", 2),
	})
	require.Len(t, chunks, 2)

	assert.Equal(t, "Revenue grew.\nCosts fell.", chunks[0].Content)
	// A merged chunk keeps the location of its first unit.
	assert.Equal(t, filing.Location{Section: "Item 7", Page: 1}, chunks[0].Location)
	assert.Equal(t, "Cash rose sharply.", chunks[1].Content)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Content), 30)
	}
}

func TestChunkBreaksOnSectionChange(t *testing.T) {
	chunks := NewChunker(1000).Chunk(docID, []filing.Unit{
		text("Competition is intense.", "Item 1A. Risk Factors", 10),
		text("Revenue grew.", "Item 7", 25),
	})
	require.Len(t, chunks, 2)
	assert.Equal(t, "Item 1A. Risk Factors", chunks[0].Location.Section)
	assert.Equal(t, "Item 7", chunks[1].Location.Section)
}

func TestChunkTablesAndChartsStandAlone(t *testing.T) {
	table := filing.Unit{
		Type:     filing.ContentTable,
		Caption:  "Net sales by category",
		Text:     strings.Repeat("iPhone | $200,583\n", 20),
		Location: filing.Location{Section: "Item 7", Path: "table 1"},
	}
	chart := filing.Unit{Type: filing.ContentChart, Text: "Net sales by segment", Location: filing.Location{Section: "Item 7", Path: "figure 1"}}

	chunks := NewChunker(50).Chunk(docID, []filing.Unit{
		text("Before.", "Item 7", 1),
		table,
		chart,
		text("After.", "Item 7", 1),
	})
	require.Len(t, chunks, 4)

	assert.Equal(t, filing.ContentText, chunks[0].ContentType)
	assert.Equal(t, filing.ContentTable, chunks[1].ContentType)
	// Tables are never split, whatever the budget.
	assert.Equal(t, table.EmbeddableText(), chunks[1].Content)
	assert.Equal(t, "table 1", chunks[1].Location.Path)
	assert.Equal(t, filing.ContentChart, chunks[2].ContentType)
	assert.Equal(t, "CHART: Net sales by segment", chunks[2].Content)
	assert.Equal(t, "After.", chunks[3].Content)
}

func TestChunkSplitsOversizedText(t *testing.T) {
	chunks := NewChunker(15).Chunk(docID, []filing.Unit{
		text("Alpha beta. Gamma delta. Epsilon zeta.", "Item 7", 3),
	})
	require.Len(t, chunks, 3)
	assert.Equal(t, "Alpha beta.", chunks[0].Content)
	assert.Equal(t, "Gamma delta.", chunks[1].Content)
	assert.Equal(t, "Epsilon zeta.", chunks[2].Content)
	for _, chunk := range chunks {
		assert.Equal(t, 3, chunk.Location.Page)
	}
}

func TestChunkSkipsBlankUnits(t *testing.T) {
	chunks := NewChunker(0).Chunk(docID, []filing.Unit{text("   ", "", 0), {Type: filing.ContentTable}})
	assert.Empty(t, chunks)
	assert.Equal(t, DefaultMaxChars, NewChunker(0).MaxChars)
}

func TestSplitTextHardCutsLongWords(t *testing.T) {
	assert.Equal(t,
		[]string{"abcdefghij", "klmnopqrst", "uvwxyz"},
		splitText("abcdefghijklmnopqrstuvwxyz", 10))
}

func TestSentences(t *testing.T) {
	assert.Equal(t,
		[]string{"Revenue was $10.9 billion.", "Margins improved!", "Why?", "2024 looks good."},
		sentences("Revenue was $10.9 billion. Margins improved! Why? 2024 looks good."))
	assert.Equal(t, []string{"no terminal punctuation"}, sentences("no terminal punctuation"))
}
