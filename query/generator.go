package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/llm"
	"github.com/fabfab/filing-agent/resilience"
	"github.com/fabfab/filing-agent/store"
)

const (
	DefaultMinScore   = 0.2
	contextBlockRunes = 2000
	excerptRunes      = 300

	InsufficientText = "The ingested filings do not contain enough information to answer this question."
)

var (
	citationMarker    = regexp.MustCompile(`\[(\d+)\]`)
	insufficientHints = regexp.MustCompile(`(?i)(insufficient information|not enough information|does not contain (enough|sufficient)|cannot be determined from)`)
)

// Generator writes a cited answer from ranked chunks.
type Generator struct {
	client   llm.Client
	policy   resilience.Policy
	minScore float64
	logger   *zap.Logger
}

// NewGenerator builds a generator. Chunks scoring below minScore do not
// count as relevant; when none reach it the answer is insufficient.
func NewGenerator(client llm.Client, policy resilience.Policy, minScore float64, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.L()
	}
	return &Generator{
		client:   client,
		policy:   policy.WithLogger("llm", "generate"),
		minScore: minScore,
		logger:   logger.Named("generator"),
	}
}

type generatedAnswer struct {
	Answer       flexText `json:"answer"`
	Citations    flexInts `json:"citations"`
	Insufficient flexBool `json:"insufficient"`
}

const generatorSystem = "You are a financial analyst answering questions about SEC 10-K and 10-Q filings. " +
	"Use only the numbered context blocks. Never use outside knowledge and never invent figures."

const generatorInstruction = `Answer the question using only the context blocks above.
Cite the block supporting each statement inline as [n], e.g. "Revenue was $383.3 billion [2]."
Return a JSON object:
{"answer": "<answer text with [n] markers>", "citations": [<block numbers used>], "insufficient": <true if the blocks cannot answer the question>}
When the blocks do not contain the answer, set "insufficient" to true and do not guess.

Question: `

// Generate answers question from ranked. Citations only ever point at
// chunks of ranked. docs supplies filing metadata for citations.
func (g *Generator) Generate(ctx context.Context, question string, ranked []store.ScoredChunk, docs []filing.Document) (filing.Answer, error) {
	if !g.anyRelevant(ranked) {
		return insufficient(), nil
	}

	byID := make(map[string]filing.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	blocks := make([]llm.Block, len(ranked))
	for i, hit := range ranked {
		blocks[i] = llm.Block{
			Label: blockLabel(i+1, hit, byID[hit.DocumentID]),
			Text:  truncateRunes(hit.Content, contextBlockRunes),
		}
	}

	out, err := llm.Complete(ctx, g.client, g.policy, llm.Prompt{
		System:      generatorSystem,
		Blocks:      blocks,
		Instruction: generatorInstruction + question,
	})
	if err != nil {
		return filing.Answer{}, eris.Wrap(err, "generate answer")
	}

	parsed := g.parseAnswer(out)
	text := strings.TrimSpace(string(parsed.Answer))

	indexes := append([]int(nil), parsed.Citations...)
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		n, _ := strconv.Atoi(m[1])
		indexes = append(indexes, n)
	}
	citations := buildCitations(indexes, ranked, byID)

	if bool(parsed.Insufficient) || text == "" || (len(citations) == 0 && insufficientHints.MatchString(text)) {
		return insufficient(), nil
	}
	return filing.Answer{Status: filing.StateAnswered, Text: text, Citations: citations}, nil
}

// parseAnswer decodes the model reply. Plain prose (no JSON object at all)
// becomes the answer text and its inline [n] markers are read by the caller.
func (g *Generator) parseAnswer(out string) generatedAnswer {
	var parsed generatedAnswer
	if err := llm.DecodeJSON(out, &parsed); err != nil {
		if _, found := llm.ExtractJSONObject(out); found {
			g.logger.Warn("malformed answer JSON, reading inline citations", zap.Error(err))
		} else {
			g.logger.Debug("answer is not JSON, reading inline citations")
		}
		return generatedAnswer{Answer: flexText(out)}
	}
	return parsed
}

func (g *Generator) anyRelevant(ranked []store.ScoredChunk) bool {
	for _, hit := range ranked {
		if hit.Score >= g.minScore {
			return true
		}
	}
	return false
}

func insufficient() filing.Answer {
	return filing.Answer{Status: filing.StateInsufficientData, Text: InsufficientText, Citations: []filing.Citation{}}
}

func blockLabel(n int, hit store.ScoredChunk, doc filing.Document) string {
	filingLabel := hit.DocumentID
	if doc.ID != "" {
		filingLabel = fmt.Sprintf("%s %s %s", doc.Ticker, doc.FilingType, doc.Period())
	}
	return fmt.Sprintf("[%d] %s | document %s | %s | %s", n, filingLabel, hit.DocumentID, hit.Location, hit.ContentType)
}

// buildCitations keeps 1-based indexes that fall inside ranked, once each, in
// ascending order.
func buildCitations(indexes []int, ranked []store.ScoredChunk, docs map[string]filing.Document) []filing.Citation {
	seen := map[int]bool{}
	var valid []int
	for _, n := range indexes {
		if n < 1 || n > len(ranked) || seen[n] {
			continue
		}
		seen[n] = true
		valid = append(valid, n)
	}
	sort.Ints(valid)

	citations := make([]filing.Citation, 0, len(valid))
	for _, n := range valid {
		hit := ranked[n-1]
		doc := docs[hit.DocumentID]
		citations = append(citations, filing.Citation{
			Index:       n,
			ChunkID:     hit.ID,
			DocumentID:  hit.DocumentID,
			Ticker:      doc.Ticker,
			Year:        doc.Year,
			Quarter:     doc.Quarter,
			FilingType:  doc.FilingType,
			ContentType: hit.ContentType,
			Location:    hit.Location.String(),
			Excerpt:     truncateRunes(hit.Content, excerptRunes),
		})
	}
	return citations
}
