// Package edgar fetches periodic filings from SEC EDGAR, or from a local
// directory laid out the same way the ingestion pipeline names documents.
package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fabfab/filing-agent/config"
	"github.com/fabfab/filing-agent/filing"
	"github.com/fabfab/filing-agent/resilience"
)

const dateLayout = "2006-01-02"

// Options configures the EDGAR client.
type Options struct {
	BaseURL   string
	DataURL   string
	UserAgent string
	// RateLimit is requests per second across all EDGAR hosts.
	RateLimit float64
	Timeout   time.Duration
}

// FilingRef is one entry of a company's submissions index.
type FilingRef struct {
	CIK             int
	AccessionNumber string
	Form            string
	FilingDate      time.Time
	ReportDate      time.Time
	PrimaryDocument string
}

// Period is the date that decides a filing's year and quarter: the report
// date when present, the filing date otherwise.
func (r FilingRef) Period() time.Time {
	if !r.ReportDate.IsZero() {
		return r.ReportDate
	}
	return r.FilingDate
}

// Client talks to the EDGAR submissions API and archives. It is safe for
// concurrent use.
type Client struct {
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger

	mu   sync.Mutex
	ciks map[string]cikEntry
}

type cikEntry struct {
	cik  int
	name string
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.L()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.sec.gov"
	}
	if opts.DataURL == "" {
		opts.DataURL = "https://data.sec.gov"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.DataURL = strings.TrimRight(opts.DataURL, "/")
	if opts.UserAgent == "" {
		opts.UserAgent = "filing-agent admin@example.com"
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	burst := int(opts.RateLimit)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), burst),
		logger:  logger.Named("edgar"),
		ciks:    map[string]cikEntry{},
	}
}

// NewClientFromConfig builds a client from the edgar config section.
func NewClientFromConfig(cfg config.EdgarConfig, logger *zap.Logger) *Client {
	return NewClient(Options{
		BaseURL:   cfg.BaseURL,
		DataURL:   cfg.DataURL,
		UserAgent: cfg.UserAgent,
		RateLimit: cfg.RateLimit,
	}, logger)
}

// Fetch downloads the full submission text of the newest filing matching req.
func (c *Client) Fetch(ctx context.Context, req filing.FilingRequest) (*filing.RawFiling, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	entry, err := c.lookupCIK(ctx, req.Ticker)
	if err != nil {
		return nil, err
	}
	sub, err := c.submissions(ctx, entry.cik)
	if err != nil {
		return nil, err
	}
	refs, err := sub.refs(entry.cik)
	if err != nil {
		return nil, err
	}
	ref, ok := MatchFiling(refs, req)
	if !ok {
		return nil, eris.Wrapf(filing.ErrNotFound, "no %s for %s in %s", req.FilingType, req.Ticker, periodLabel(req))
	}

	url := c.ArchiveURL(ref)
	data, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	name := sub.Name
	if name == "" {
		name = entry.name
	}
	c.logger.Info("fetched filing",
		zap.String("ticker", req.Ticker),
		zap.String("accession", ref.AccessionNumber),
		zap.Int("bytes", len(data)))
	return &filing.RawFiling{
		Name:        ref.AccessionNumber + ".txt",
		Data:        data,
		SourceURL:   url,
		FilingDate:  ref.FilingDate,
		CompanyName: name,
	}, nil
}

// ArchiveURL is the full submission text file of a filing.
func (c *Client) ArchiveURL(ref FilingRef) string {
	return fmt.Sprintf("%s/Archives/edgar/data/%d/%s/%s.txt",
		c.opts.BaseURL, ref.CIK, strings.ReplaceAll(ref.AccessionNumber, "-", ""), ref.AccessionNumber)
}

// MatchFiling picks the newest filing of the requested form whose period
// falls in the requested year (and calendar quarter for 10-Qs). Amendments
// never match.
func MatchFiling(refs []FilingRef, req filing.FilingRequest) (FilingRef, bool) {
	var best FilingRef
	found := false
	for _, ref := range refs {
		if ref.Form != string(req.FilingType) {
			continue
		}
		period := ref.Period()
		if period.IsZero() || period.Year() != req.Year {
			continue
		}
		if !req.FilingType.IsAnnual() && quarterOf(period) != req.Quarter {
			continue
		}
		if !found || ref.FilingDate.After(best.FilingDate) {
			best = ref
			found = true
		}
	}
	return best, found
}

func quarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

func periodLabel(req filing.FilingRequest) string {
	if req.FilingType.IsAnnual() {
		return strconv.Itoa(req.Year)
	}
	return fmt.Sprintf("Q%d %d", req.Quarter, req.Year)
}

type tickerEntry struct {
	CIK    int    `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// lookupCIK resolves a ticker through company_tickers.json. The whole table
// is cached on first use.
func (c *Client) lookupCIK(ctx context.Context, ticker string) (cikEntry, error) {
	ticker = filing.NormalizeTicker(ticker)

	c.mu.Lock()
	entry, ok := c.ciks[ticker]
	loaded := len(c.ciks) > 0
	c.mu.Unlock()
	if ok {
		return entry, nil
	}
	if loaded {
		return cikEntry{}, eris.Wrapf(filing.ErrNotFound, "unknown ticker %s", ticker)
	}

	data, err := c.get(ctx, c.opts.BaseURL+"/files/company_tickers.json")
	if err != nil {
		return cikEntry{}, eris.Wrap(err, "load company tickers")
	}
	var table map[string]tickerEntry
	if err := json.Unmarshal(data, &table); err != nil {
		return cikEntry{}, eris.Wrap(err, "decode company tickers")
	}

	c.mu.Lock()
	for _, e := range table {
		if e.Ticker == "" {
			continue
		}
		c.ciks[filing.NormalizeTicker(e.Ticker)] = cikEntry{cik: e.CIK, name: e.Title}
	}
	entry, ok = c.ciks[ticker]
	c.mu.Unlock()

	c.logger.Debug("loaded company tickers", zap.Int("count", len(table)))
	if !ok {
		return cikEntry{}, eris.Wrapf(filing.ErrNotFound, "unknown ticker %s", ticker)
	}
	return entry, nil
}

type submissionsDoc struct {
	Name    string `json:"name"`
	Filings struct {
		Recent recentFilings `json:"recent"`
	} `json:"filings"`
}

// recentFilings is column-oriented: index i of every slice describes one filing.
type recentFilings struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	ReportDate      []string `json:"reportDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

func (s submissionsDoc) refs(cik int) ([]FilingRef, error) {
	r := s.Filings.Recent
	n := len(r.AccessionNumber)
	if len(r.Form) != n || len(r.FilingDate) != n {
		return nil, eris.Errorf("edgar: malformed submissions index for CIK %d", cik)
	}

	out := make([]FilingRef, 0, n)
	for i := 0; i < n; i++ {
		ref := FilingRef{CIK: cik, AccessionNumber: r.AccessionNumber[i], Form: r.Form[i]}
		ref.FilingDate, _ = time.Parse(dateLayout, r.FilingDate[i])
		if i < len(r.ReportDate) {
			ref.ReportDate, _ = time.Parse(dateLayout, r.ReportDate[i])
		}
		if i < len(r.PrimaryDocument) {
			ref.PrimaryDocument = r.PrimaryDocument[i]
		}
		out = append(out, ref)
	}
	return out, nil
}

func (c *Client) submissions(ctx context.Context, cik int) (submissionsDoc, error) {
	var doc submissionsDoc
	data, err := c.get(ctx, fmt.Sprintf("%s/submissions/CIK%010d.json", c.opts.DataURL, cik))
	if err != nil {
		return doc, eris.Wrapf(err, "load submissions for CIK %d", cik)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, eris.Wrapf(err, "decode submissions for CIK %d", cik)
	}
	return doc, nil
}

// get performs one rate-limited GET. 404 maps to filing.ErrNotFound; 429 and
// 5xx come back transient so the caller's retry policy can retry them.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "GET %s", url)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(filing.ErrNotFound, "GET %s", url)
	case resp.StatusCode != http.StatusOK:
		return nil, resilience.ClassifyStatus(eris.Errorf("GET %s: status %d", url, resp.StatusCode), resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", url)
	}
	return data, nil
}
