// Package scraper discovers the downloadable tables the IPEDS data portal
// lists for a year.
//
// Index fetches the year's listing page and hands it to ParseIndex. A listing
// that cannot be fetched or parsed is fatal for that year's scrape and is not
// retried here: callers re-run the idempotent pipeline instead.
package scraper

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"ipeds/internal/ipedserr"
	"ipeds/internal/metrics"
)

const (
	defaultIndexURL  = "https://nces.ed.gov/ipeds/datacenter/DataFiles.aspx?year=%d"
	defaultSelector  = "table#contentPlaceHolder_tblResult"
	defaultUserAgent = "ipeds-ingest/1.0"

	// errBodyLimit caps how much of a non-2xx body is quoted in errors.
	errBodyLimit = 4096
)

// Options configures a Scraper. Zero values select the portal defaults.
type Options struct {
	IndexURL      string // printf template with one %d for the year
	Selector      string
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
	Client        *http.Client
}

// Scraper fetches and parses listing pages.
type Scraper struct {
	opts   Options
	client *http.Client

	robotsMu sync.Mutex
	robots   map[string]*robotstxt.RobotsData // by scheme://host; nil entry = no usable robots.txt
}

// New returns a Scraper with defaults applied.
func New(opts Options) *Scraper {
	if opts.IndexURL == "" {
		opts.IndexURL = defaultIndexURL
	}
	if opts.Selector == "" {
		opts.Selector = defaultSelector
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Scraper{opts: opts, client: client, robots: make(map[string]*robotstxt.RobotsData)}
}

// PageURL returns the listing URL for year.
func (s *Scraper) PageURL(year int) string {
	return fmt.Sprintf(s.opts.IndexURL, year)
}

// Index returns the entries listed for year, deduplicated by table name.
//
// Errors:
//   - CodeInvalidArgument for a non-positive year.
//   - CodeRemoteFetch for robots disallow, network failure, non-2xx status or
//     a page without the results table.
func (s *Scraper) Index(ctx context.Context, year int) ([]Entry, error) {
	if year <= 0 {
		return nil, ipedserr.Newf(ipedserr.CodeInvalidArgument, "invalid year %d", year)
	}
	pageURL := s.PageURL(year)

	if s.opts.RespectRobots {
		ok, err := s.allowed(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ipedserr.Newf(ipedserr.CodeRemoteFetch, "robots.txt disallows %s", pageURL)
		}
	}

	html, err := s.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	entries, err := ParseIndex(html, pageURL, year, s.opts.Selector)
	if err != nil {
		return nil, err
	}
	log.Printf("scraper: year=%d entries=%d url=%s", year, len(entries), pageURL)
	return entries, nil
}

func (s *Scraper) get(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", ipedserr.Wrap(err, ipedserr.CodeRemoteFetch, "new request")
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		metrics.RecordHTTP(0, err, time.Since(start), 0)
		return "", ipedserr.Wrapf(err, ipedserr.CodeRemoteFetch, "GET %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		metrics.RecordHTTP(resp.StatusCode, nil, time.Since(start), int64(len(body)))
		return "", ipedserr.Newf(ipedserr.CodeRemoteFetch, "GET %s: status %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	b, err := io.ReadAll(resp.Body)
	metrics.RecordHTTP(resp.StatusCode, err, time.Since(start), int64(len(b)))
	if err != nil {
		return "", ipedserr.Wrapf(err, ipedserr.CodeRemoteFetch, "read %s", rawURL)
	}
	return string(b), nil
}

// allowed checks rawURL against the host's robots.txt. A missing or
// unreadable robots.txt allows everything.
func (s *Scraper) allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, ipedserr.Wrapf(err, ipedserr.CodeRemoteFetch, "parse %q", rawURL)
	}
	origin := u.Scheme + "://" + u.Host

	s.robotsMu.Lock()
	data, cached := s.robots[origin]
	s.robotsMu.Unlock()

	if !cached {
		data = s.fetchRobots(ctx, origin+"/robots.txt")
		s.robotsMu.Lock()
		s.robots[origin] = data
		s.robotsMu.Unlock()
	}
	if data == nil {
		return true, nil
	}
	p := u.EscapedPath()
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return data.FindGroup(s.opts.UserAgent).Test(p), nil
}

func (s *Scraper) fetchRobots(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data
}
