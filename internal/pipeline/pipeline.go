// Package pipeline runs the per-year ingestion: listing, download, normalize
// and load for every table, then the year's dictionary tables.
//
// Items are processed one at a time. A failed item is recorded in the
// Summary and the run moves on. A listing failure, an unusable
// configuration or a store locked by another process aborts the year.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ipeds/internal/dictionary"
	"ipeds/internal/fetcher"
	"ipeds/internal/ipedserr"
	"ipeds/internal/loader"
	"ipeds/internal/metrics"
	"ipeds/internal/normalize"
	"ipeds/internal/scraper"
	"ipeds/internal/storage"
	"ipeds/internal/table"
)

// Options controls a Runner.
type Options struct {
	CacheDir string
	// Force re-downloads files already in the cache.
	Force bool
	// Overwrite replaces tables that already exist in the store.
	Overwrite bool
	// SkipDictionaries disables vartable/valuesets assembly.
	SkipDictionaries bool
	// Tables restricts the run to these table names (case-insensitive).
	Tables    []string
	Normalize normalize.Options
	Verbose   bool
}

// Status of one item.
type Status string

const (
	StatusLoaded  Status = "loaded"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Item is the outcome for one table.
type Item struct {
	Table    string        `json:"table"`
	Status   Status        `json:"status"`
	Rows     int64         `json:"rows"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Summary is what IngestYear did.
type Summary struct {
	Year    int    `json:"year"`
	Items   []Item `json:"items"`
	Loaded  int    `json:"loaded"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	// Error is set when the year was aborted.
	Error string `json:"error,omitempty"`
}

func (s *Summary) add(it Item) {
	s.Items = append(s.Items, it)
	switch it.Status {
	case StatusLoaded:
		s.Loaded++
	case StatusSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

func (s *Summary) String() string {
	out := fmt.Sprintf("year %d: %d loaded, %d skipped, %d failed", s.Year, s.Loaded, s.Skipped, s.Failed)
	if s.Error != "" {
		out += " (aborted: " + s.Error + ")"
	}
	return out
}

// Runner wires the pipeline stages together.
type Runner struct {
	scraper *scraper.Scraper
	fetcher *fetcher.Fetcher
	store   storage.Store
	loader  *loader.Loader
	opts    Options
}

// New returns a Runner writing into s.
func New(sc *scraper.Scraper, f *fetcher.Fetcher, s storage.Store, opts Options) *Runner {
	return &Runner{scraper: sc, fetcher: f, store: s, loader: loader.New(s, opts.Verbose), opts: opts}
}

// IngestYear ingests every table listed for year and returns the summary.
//
// Errors:
//   - CodeRemoteFetch when the listing cannot be read; nothing is downloaded.
//   - CodeInvalidArgument for an unusable cache directory.
//   - CodeWriteLock as soon as the store reports another process holds it;
//     nothing further is downloaded.
//   - ctx.Err() when cancelled between items.
//
// The summary is never nil; on error it holds the items done so far and
// Error is set. Every other failure is an Item with StatusFailed.
func (r *Runner) IngestYear(ctx context.Context, year int) (sum *Summary, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			sum.Error = err.Error()
		}
		metrics.RecordStep("ingest_year", err, time.Since(start))
	}()

	sum = &Summary{Year: year}
	if strings.TrimSpace(r.opts.CacheDir) == "" {
		return sum, ipedserr.New(ipedserr.CodeInvalidArgument, "ingest: empty cache directory")
	}
	entries, err := r.scraper.Index(ctx, year)
	if err != nil {
		return sum, err
	}
	entries = r.filter(entries)
	yearDir := filepath.Join(r.opts.CacheDir, strconv.Itoa(year))

	var books []string
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		it, wbs, err := r.ingestEntry(ctx, e, yearDir)
		if err != nil {
			if it.Status != "" {
				sum.add(it)
			}
			return sum, err
		}
		books = append(books, wbs...)
		sum.add(it)
		log.Printf("pipeline: [%d/%d] %s %s (%d rows) %s", i+1, len(entries), it.Table, it.Status, it.Rows, it.Message)
	}

	if !r.opts.SkipDictionaries {
		for _, e := range entries {
			if e.DictionaryURL == "" {
				continue
			}
			wbs, err := r.fetchDictionary(ctx, e, yearDir)
			if err != nil {
				if ipedserr.Is(err, ipedserr.CodeInvalidArgument) {
					return sum, err
				}
				log.Printf("pipeline: dictionary for %s: %v", e.Table, err)
				continue
			}
			books = append(books, wbs...)
		}
		items, err := r.loadDictionaries(ctx, year, dedupe(books))
		for _, it := range items {
			sum.add(it)
		}
		if err != nil {
			return sum, err
		}
	}

	log.Printf("pipeline: %s in %s", sum, time.Since(start).Round(time.Millisecond))
	return sum, nil
}

func (r *Runner) filter(entries []scraper.Entry) []scraper.Entry {
	if len(r.opts.Tables) == 0 {
		return entries
	}
	want := map[string]bool{}
	for _, t := range r.opts.Tables {
		want[loader.CanonicalName(t)] = true
	}
	var out []scraper.Entry
	for _, e := range entries {
		if want[e.Table] {
			out = append(out, e)
		}
	}
	return out
}

// ingestEntry handles one listed table. It returns workbooks found in the
// data archive, and an error only when the whole run must stop. A store
// lock stops the run; the item is returned as failed alongside it.
func (r *Runner) ingestEntry(ctx context.Context, e scraper.Entry, dir string) (Item, []string, error) {
	start := time.Now()
	it := Item{Table: e.Table}
	done := func(status Status, err error, format string, args ...any) (Item, []string, error) {
		it.Status, it.Err, it.Duration = status, err, time.Since(start)
		it.Message = fmt.Sprintf(format, args...)
		if err != nil && it.Message == "" {
			it.Message = err.Error()
		}
		if ipedserr.Is(err, ipedserr.CodeWriteLock) {
			return it, nil, err
		}
		return it, nil, nil
	}

	if !r.opts.Overwrite {
		ok, err := r.store.TableExists(ctx, e.Table)
		if err != nil {
			return done(StatusFailed, err, "")
		}
		if ok {
			it.Rows, _ = r.store.RowCount(ctx, e.Table)
			return done(StatusSkipped, nil, "already loaded")
		}
	}

	path, err := r.fetcher.Fetch(ctx, e.DataURL, dir, r.opts.Force)
	if err != nil {
		if ipedserr.Is(err, ipedserr.CodeInvalidArgument) {
			return it, nil, err
		}
		return done(StatusFailed, err, "")
	}

	csvPath := path
	var books []string
	kind, err := fetcher.DetectKind(path)
	if err != nil {
		return done(StatusFailed, err, "")
	}
	switch kind {
	case fetcher.KindWorkbook:
		it, _, _ = done(StatusSkipped, nil, "payload is a workbook")
		return it, []string{path}, nil
	case fetcher.KindArchive:
		exp, err := fetcher.Expand(path, strings.TrimSuffix(path, filepath.Ext(path)))
		if err != nil {
			return done(StatusFailed, err, "")
		}
		books = exp.Workbooks
		if exp.CSV == "" {
			it, _, _ = done(StatusSkipped, nil, "archive holds no csv")
			return it, books, nil
		}
		csvPath = exp.CSV
	}

	raw, err := os.ReadFile(csvPath)
	if err != nil {
		return done(StatusFailed, ipedserr.Wrapf(err, ipedserr.CodeDecode, "read %s", csvPath), "")
	}
	res, err := normalize.Normalize(raw, e.Table, r.opts.Normalize)
	if err != nil {
		return done(StatusFailed, err, "")
	}
	if r.opts.Verbose && (res.Lossy || res.Skipped > 0 || res.Duplicates > 0) {
		log.Printf("pipeline: %s normalized (lossy=%v skipped=%d duplicates=%d)", e.Table, res.Lossy, res.Skipped, res.Duplicates)
	}

	n, err := r.loader.Load(ctx, res.Table, e.Table, r.opts.Overwrite)
	it.Rows = n
	switch {
	case ipedserr.Is(err, ipedserr.CodeSkipped):
		it, _, _ = done(StatusSkipped, nil, "already loaded")
	case err != nil:
		var stop error
		if it, _, stop = done(StatusFailed, err, ""); stop != nil {
			return it, nil, stop
		}
	default:
		it, _, _ = done(StatusLoaded, nil, "from %s", filepath.Base(csvPath))
	}
	return it, books, nil
}

// fetchDictionary downloads a dictionary link and returns the workbooks in it.
func (r *Runner) fetchDictionary(ctx context.Context, e scraper.Entry, dir string) ([]string, error) {
	path, err := r.fetcher.Fetch(ctx, e.DictionaryURL, dir, r.opts.Force)
	if err != nil {
		return nil, err
	}
	kind, err := fetcher.DetectKind(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case fetcher.KindWorkbook:
		return []string{path}, nil
	case fetcher.KindArchive:
		exp, err := fetcher.Expand(path, strings.TrimSuffix(path, filepath.Ext(path)))
		if err != nil {
			return nil, err
		}
		return exp.Workbooks, nil
	default:
		// Older years publish dictionaries as PDF or HTML.
		return nil, nil
	}
}

// loadDictionaries assembles and replaces vartable<year> and valuesets<year>.
// Only a store lock is returned as an error.
func (r *Runner) loadDictionaries(ctx context.Context, year int, paths []string) ([]Item, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	start := time.Now()
	var books []dictionary.Workbook
	for _, p := range paths {
		wb, err := dictionary.Read(p)
		if err != nil {
			log.Printf("pipeline: %v", err)
			continue
		}
		books = append(books, wb)
	}

	tabs, err := dictionary.Assemble(year, books, r.opts.Normalize)
	if err != nil {
		return []Item{{Table: dictionary.VariablesName(year), Status: StatusFailed, Message: err.Error(), Err: err, Duration: time.Since(start)}}, nil
	}

	var out []Item
	for _, tb := range []*table.Table{tabs.Variables, tabs.ValueSets} {
		if tb == nil {
			continue
		}
		it := Item{Table: tb.Name}
		n, err := r.loader.Load(ctx, tb, tb.Name, true)
		if err != nil {
			it.Status, it.Err, it.Message = StatusFailed, err, err.Error()
		} else {
			it.Status, it.Rows, it.Message = StatusLoaded, n, fmt.Sprintf("from %d workbook(s)", len(books))
		}
		it.Duration = time.Since(start)
		out = append(out, it)
		if ipedserr.Is(err, ipedserr.CodeWriteLock) {
			return out, err
		}
	}
	return out, nil
}

func dedupe(paths []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
