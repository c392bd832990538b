package filing

import (
	"sort"

	"github.com/rotisserie/eris"
)

// QueryScope is the structured interpretation of a question. Empty Years means
// "most recent"; Quarter 0 means the annual filing.
type QueryScope struct {
	Tickers     []string     `json:"tickers"`
	Years       []int        `json:"years,omitempty"`
	Quarters    []int        `json:"quarters,omitempty"`
	FilingTypes []FilingType `json:"filing_types,omitempty"`
	Topics      []string     `json:"topics,omitempty"`
	Question    string       `json:"question"`
}

// Normalize upper-cases tickers, drops out-of-range quarters and removes duplicates.
func (s QueryScope) Normalize() QueryScope {
	out := QueryScope{Question: s.Question}

	seenTicker := map[string]bool{}
	for _, t := range s.Tickers {
		t = NormalizeTicker(t)
		if t == "" || seenTicker[t] {
			continue
		}
		seenTicker[t] = true
		out.Tickers = append(out.Tickers, t)
	}

	seenYear := map[int]bool{}
	for _, y := range s.Years {
		if y <= 0 || seenYear[y] {
			continue
		}
		seenYear[y] = true
		out.Years = append(out.Years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out.Years)))

	seenQuarter := map[int]bool{}
	for _, q := range s.Quarters {
		if q < 0 || q > 4 || seenQuarter[q] {
			continue
		}
		seenQuarter[q] = true
		out.Quarters = append(out.Quarters, q)
	}
	sort.Ints(out.Quarters)

	seenType := map[FilingType]bool{}
	for _, ft := range s.FilingTypes {
		if seenType[ft] {
			continue
		}
		seenType[ft] = true
		out.FilingTypes = append(out.FilingTypes, ft)
	}

	seenTopic := map[string]bool{}
	for _, topic := range s.Topics {
		if topic == "" || seenTopic[topic] {
			continue
		}
		seenTopic[topic] = true
		out.Topics = append(out.Topics, topic)
	}

	return out
}

// Citation ties an answer back to one retrieved chunk.
type Citation struct {
	Index       int         `json:"index"`
	ChunkID     string      `json:"chunk_id"`
	DocumentID  string      `json:"document_id"`
	Ticker      string      `json:"ticker"`
	Year        int         `json:"year"`
	Quarter     int         `json:"quarter"`
	FilingType  FilingType  `json:"filing_type"`
	ContentType ContentType `json:"content_type"`
	Location    string      `json:"location"`
	Excerpt     string      `json:"excerpt"`
}

// DocumentInsight summarizes a filing from the knowledge graph.
type DocumentInsight struct {
	ChunkCount int      `json:"chunk_count"`
	Tables     int      `json:"tables"`
	Charts     int      `json:"charts"`
	Sections   []string `json:"sections,omitempty"`
}

// DocumentRef is a document that was in scope for an answer.
type DocumentRef struct {
	Document
	Insight *DocumentInsight `json:"insight,omitempty"`
}

// Answer is the outcome of one question. Status is always a terminal state.
type Answer struct {
	Status    State         `json:"status"`
	Text      string        `json:"text"`
	Citations []Citation    `json:"citations"`
	Documents []DocumentRef `json:"documents,omitempty"`
	Scope     QueryScope    `json:"scope"`
}

// State is a step of the per-query lifecycle.
type State string

const (
	StateReceived         State = "received"
	StateAnalyzed         State = "analyzed"
	StateScoped           State = "scoped"
	StateRetrieved        State = "retrieved"
	StateAnswered         State = "answered"
	StateInsufficientData State = "insufficient_data"
	StateAmbiguousScope   State = "ambiguous_scope"
	StateNoData           State = "no_data"
)

var transitions = map[State][]State{
	StateReceived:  {StateAnalyzed},
	StateAnalyzed:  {StateScoped, StateAmbiguousScope},
	StateScoped:    {StateRetrieved, StateNoData},
	StateRetrieved: {StateAnswered, StateInsufficientData},
}

func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// Next validates a transition from s to next.
func (s State) Next(next State) (State, error) {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return next, nil
		}
	}
	return s, eris.Errorf("invalid query state transition %s -> %s", s, next)
}
