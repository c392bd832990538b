// Package query answers natural-language questions over ingested filings:
// analyze the question into a scope, select filings, retrieve ranked chunks
// and generate a cited answer.
package query

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/llm"
	"github.com/fabfab/filing-agent/resilience"
)

// fuzzyThreshold is the minimum Levenshtein similarity for a fuzzy company match.
const fuzzyThreshold = 0.8

// CompanyLister supplies the companies questions are resolved against.
type CompanyLister interface {
	ListCompanies(ctx context.Context) ([]filing.Company, error)
}

type Analyzer struct {
	client    llm.Client
	companies CompanyLister
	policy    resilience.Policy
	logger    *zap.Logger
}

// NewAnalyzer builds an analyzer. A nil client disables the model pass and
// leaves only pattern extraction.
func NewAnalyzer(client llm.Client, companies CompanyLister, policy resilience.Policy, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.L()
	}
	return &Analyzer{
		client:    client,
		companies: companies,
		policy:    policy.WithLogger("llm", "analyze"),
		logger:    logger.Named("analyzer"),
	}
}

// modelScope is the JSON the model is asked to return.
type modelScope struct {
	Companies   flexStrings `json:"companies"`
	Years       flexInts    `json:"years"`
	Quarters    flexInts    `json:"quarters"`
	FilingTypes flexStrings `json:"filing_types"`
	Topics      flexStrings `json:"topics"`
	Question    flexText    `json:"question"`
}

const analyzerSystem = "You extract structured scope from questions about SEC 10-K and 10-Q filings. Reply with JSON only."

const analyzerInstruction = `Analyze the question below and return a JSON object with these keys:
- "companies": company names or ticker symbols mentioned (prefer tickers, e.g. Apple -> AAPL)
- "years": fiscal years explicitly mentioned, as integers
- "quarters": fiscal quarters explicitly mentioned, as integers 1-4
- "filing_types": "10-K" for annual reports, "10-Q" for quarterly reports, only when the question asks for one
- "topics": the financial metrics or topics of interest
- "question": the question restated without company and period references
Use an empty list for anything not stated. Do not guess years or quarters.

Question: `

// Analyze turns a question into a normalized scope. It fails with
// filing.ErrAmbiguousScope when no company can be resolved.
func (a *Analyzer) Analyze(ctx context.Context, question string) (filing.QueryScope, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return filing.QueryScope{}, eris.Wrap(filing.ErrInvalidRequest, "question cannot be empty")
	}

	var model modelScope
	if a.client != nil {
		out, err := llm.Complete(ctx, a.client, a.policy, llm.Prompt{
			System:      analyzerSystem,
			Instruction: analyzerInstruction + question,
		})
		if err != nil {
			return filing.QueryScope{}, eris.Wrap(err, "analyze question")
		}
		if err := llm.DecodeJSON(out, &model); err != nil {
			a.logger.Warn("unparseable analysis, using pattern extraction only", zap.Error(err))
			model = modelScope{}
		}
	}

	// Question carries the residual semantic question used for retrieval.
	scope := filing.QueryScope{Question: question}
	if residual := strings.TrimSpace(string(model.Question)); residual != "" {
		scope.Question = residual
	}
	scope.Years = append(extractYears(question), validYears(model.Years)...)
	scope.Quarters = append(extractQuarters(question), model.Quarters...)
	scope.FilingTypes = extractFilingTypes(question)
	for _, raw := range model.FilingTypes {
		if ft, err := filing.ParseFilingType(raw); err == nil {
			scope.FilingTypes = append(scope.FilingTypes, ft)
		}
	}
	scope.Topics = extractTopics(question)
	for _, t := range model.Topics {
		scope.Topics = append(scope.Topics, strings.ToLower(strings.TrimSpace(t)))
	}

	known, err := a.knownCompanies(ctx)
	if err != nil {
		return filing.QueryScope{}, err
	}
	candidates := append([]string(model.Companies), mentionedCompanies(question, known)...)
	if len(candidates) == 0 {
		candidates = tickerCandidates(question)
	}
	for _, c := range candidates {
		if ticker, ok := resolveCompany(c, known); ok {
			scope.Tickers = append(scope.Tickers, ticker)
		}
	}

	scope = scope.Normalize()
	a.logger.Debug("analyzed question",
		zap.Strings("tickers", scope.Tickers),
		zap.Ints("years", scope.Years),
		zap.Ints("quarters", scope.Quarters),
		zap.Strings("topics", scope.Topics))

	if len(scope.Tickers) == 0 {
		return scope, eris.Wrapf(filing.ErrAmbiguousScope, "no company recognized in %q", question)
	}
	return scope, nil
}

func (a *Analyzer) knownCompanies(ctx context.Context) ([]filing.Company, error) {
	if a.companies == nil {
		return nil, nil
	}
	companies, err := a.companies.ListCompanies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list companies")
	}
	return companies, nil
}

var (
	yearPattern      = regexp.MustCompile(`\b(199\d|20\d{2})\b`)
	fiscalPattern    = regexp.MustCompile(`(?i)\bFY\s?'?(\d{4}|\d{2})\b`)
	quarterPattern   = regexp.MustCompile(`(?i)\bQ([1-4])\b`)
	ordinalQuarter   = regexp.MustCompile(`(?i)\b(first|second|third|fourth|1st|2nd|3rd|4th)\s+(?:fiscal\s+)?quarter\b`)
	annualPattern    = regexp.MustCompile(`(?i)\b(annual|yearly|10-?K)\b`)
	quarterlyPattern = regexp.MustCompile(`(?i)\b(quarterly|10-?Q)\b`)
	tickerPattern    = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)
	tickerToken      = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
)

// notTickers are upper-case tokens common in financial questions.
var notTickers = map[string]bool{
	"A": true, "I": true, "FY": true, "Q": true, "US": true, "USA": true, "CEO": true,
	"CFO": true, "EPS": true, "GAAP": true, "SEC": true, "MDA": true, "YOY": true,
	"ROE": true, "ROI": true, "AI": true, "EBIT": true, "IPO": true, "TTM": true,
	"LTM": true, "YTD": true, "QOQ": true, "ESG": true, "R": true, "D": true,
}

var ordinalQuarters = map[string]int{
	"first": 1, "1st": 1,
	"second": 2, "2nd": 2,
	"third": 3, "3rd": 3,
	"fourth": 4, "4th": 4,
}

func extractYears(question string) []int {
	var years []int
	for _, m := range yearPattern.FindAllString(question, -1) {
		y, _ := strconv.Atoi(m)
		years = append(years, y)
	}
	for _, m := range fiscalPattern.FindAllStringSubmatch(question, -1) {
		y, _ := strconv.Atoi(m[1])
		if len(m[1]) == 2 {
			y += 2000
		}
		years = append(years, y)
	}
	return validYears(years)
}

func validYears(years []int) []int {
	out := years[:0:0]
	for _, y := range years {
		if y >= 1993 && y <= 2100 {
			out = append(out, y)
		}
	}
	return out
}

func extractQuarters(question string) []int {
	var quarters []int
	for _, m := range quarterPattern.FindAllStringSubmatch(question, -1) {
		q, _ := strconv.Atoi(m[1])
		quarters = append(quarters, q)
	}
	for _, m := range ordinalQuarter.FindAllStringSubmatch(question, -1) {
		quarters = append(quarters, ordinalQuarters[strings.ToLower(m[1])])
	}
	return quarters
}

func extractFilingTypes(question string) []filing.FilingType {
	var types []filing.FilingType
	if annualPattern.MatchString(question) {
		types = append(types, filing.TypeAnnual)
	}
	if quarterlyPattern.MatchString(question) {
		types = append(types, filing.TypeQuarterly)
	}
	return types
}

var topicKeywords = []struct {
	topic    string
	keywords []string
}{
	{"revenue", []string{"revenue", "sales", "top line"}},
	{"profit", []string{"profit", "earnings", "net income", "ebitda", "margin"}},
	{"growth", []string{"growth", "increase", "decrease", "change", "cagr"}},
	{"expenses", []string{"expense", "costs", "spending", "opex"}},
	{"balance sheet", []string{"assets", "liabilities", "equity", "balance sheet"}},
	{"cash flow", []string{"cash flow", "cash", "liquidity"}},
	{"debt", []string{"debt", "loans", "borrowing"}},
	{"dividend", []string{"dividend", "payout", "buyback", "repurchase"}},
	{"investment", []string{"investment", "capex", "capital expenditure"}},
	{"risk", []string{"risk", "uncertainty", "exposure"}},
}

func extractTopics(question string) []string {
	lower := strings.ToLower(question)
	var topics []string
	for _, t := range topicKeywords {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				topics = append(topics, t.topic)
				break
			}
		}
	}
	return topics
}

var corporateSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"co": true, "company": true, "ltd": true, "limited": true, "plc": true,
	"llc": true, "holdings": true, "group": true, "the": true,
}

// simpleName lower-cases a company name and drops punctuation, possessives
// and corporate suffixes: "Apple Inc." -> "apple", "Apple's" -> "apple".
func simpleName(name string) string {
	name = strings.ToLower(name)
	name = strings.NewReplacer("'s", "", "’s", "", "&", " and ").Replace(name)
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	kept := words[:0]
	for _, w := range words {
		if !corporateSuffixes[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// mentionedCompanies finds known companies named in the question text,
// either by an upper-case ticker token or by their simplified name.
func mentionedCompanies(question string, known []filing.Company) []string {
	var out []string
	tickers := map[string]bool{}
	for _, tok := range tickerToken.FindAllString(question, -1) {
		tickers[tok] = true
	}
	text := " " + simpleName(question) + " "
	for _, c := range known {
		if tickers[c.Ticker] {
			out = append(out, c.Ticker)
			continue
		}
		if name := simpleName(c.Name); name != "" && strings.Contains(text, " "+name+" ") {
			out = append(out, c.Ticker)
		}
	}
	return out
}

// tickerCandidates returns upper-case tokens that look like tickers. They
// only matter when nothing else names a company.
func tickerCandidates(question string) []string {
	var out []string
	for _, tok := range tickerToken.FindAllString(question, -1) {
		if !notTickers[tok] {
			out = append(out, tok)
		}
	}
	return out
}

// resolveCompany maps a candidate to a ticker: exact ticker, exact name,
// name prefix, then fuzzy name similarity. An unresolved candidate that is
// written like a ticker is kept as-is.
func resolveCompany(candidate string, known []filing.Company) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	upper := filing.NormalizeTicker(candidate)
	for _, c := range known {
		if c.Ticker == upper {
			return c.Ticker, true
		}
	}

	simple := simpleName(candidate)
	if simple != "" {
		for _, c := range known {
			if simpleName(c.Name) == simple {
				return c.Ticker, true
			}
		}
		if len(simple) >= 3 {
			for _, c := range known {
				if name := simpleName(c.Name); strings.HasPrefix(name, simple) {
					return c.Ticker, true
				}
			}
		}

		best, bestScore := "", 0.0
		for _, c := range known {
			name := simpleName(c.Name)
			if name == "" {
				continue
			}
			if score := levenshtein.Similarity(simple, name, nil); score > bestScore {
				best, bestScore = c.Ticker, score
			}
		}
		if bestScore >= fuzzyThreshold {
			return best, true
		}
	}

	if tickerPattern.MatchString(candidate) {
		return candidate, true
	}
	return "", false
}
