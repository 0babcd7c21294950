package validate

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"ipeds/internal/ipedserr"
	"ipeds/internal/metrics"
	"ipeds/internal/storage"
	"ipeds/internal/table"
)

// Defaults for Options.
const (
	DefaultDuplicateExhaustiveMax = 500000
	DefaultOutlierFactor          = 10.0
)

// Options tunes the engine.
type Options struct {
	// DuplicateExhaustiveMax is the largest table read in full. Larger tables
	// are checked on their first DuplicateExhaustiveMax rows and the results
	// say so.
	DuplicateExhaustiveMax int
	// OutlierFactor flags a numeric column whose max exceeds factor × mean.
	OutlierFactor float64
	Verbose       bool
}

// Result is one check's outcome for one table.
type Result struct {
	Check    string         `json:"check"`
	Category Category       `json:"category"`
	Status   Status         `json:"status"`
	Message  string         `json:"message"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// TableSummary aggregates the results of one table.
type TableSummary struct {
	Table    string   `json:"table"`
	Total    int      `json:"total"`
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	Warnings int      `json:"warnings"`
	Errors   int      `json:"errors"`
	Status   Status   `json:"status"`
	Results  []Result `json:"results"`
}

// Report is the outcome of one Validate call.
type Report struct {
	Level           Level          `json:"level"`
	GeneratedAt     time.Time      `json:"generated_at"`
	Tables          []TableSummary `json:"tables"`
	Status          Status         `json:"status"`
	Recommendations []string       `json:"recommendations"`
}

// Engine runs checks against a store.
type Engine struct {
	store storage.Store
	opts  Options
	now   func() time.Time

	// per-run caches
	tables    []string
	directory *directoryIDs
}

type directoryIDs struct {
	table string
	ids   map[int64]struct{}
	err   error
}

// New returns an engine over s.
func New(s storage.Store, opts Options) *Engine {
	if opts.DuplicateExhaustiveMax <= 0 {
		opts.DuplicateExhaustiveMax = DefaultDuplicateExhaustiveMax
	}
	if opts.OutlierFactor <= 0 {
		opts.OutlierFactor = DefaultOutlierFactor
	}
	return &Engine{store: s, opts: opts, now: time.Now}
}

// target is the per-table state shared by checks.
type target struct {
	name    string
	exists  bool
	schema  []storage.ColumnInfo
	rows    int64
	data    *table.Table
	sampled bool
}

func (t *target) column(name string) int {
	if t.data == nil {
		return -1
	}
	return t.data.ColumnIndex(name)
}

// Validate runs the checks of level over tables (all store tables when
// empty) and returns the report.
//
// Errors:
//   - Only a failure to list the store's tables is returned. Everything
//     else becomes a result entry.
func (e *Engine) Validate(ctx context.Context, tables []string, level Level) (*Report, error) {
	all, err := e.store.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	e.tables = all
	e.directory = nil

	if len(tables) == 0 {
		tables = all
	}

	rep := &Report{Level: level, GeneratedAt: e.now().UTC(), Status: StatusPass}
	for _, name := range tables {
		sum := e.validateTable(ctx, strings.TrimSpace(name), level)
		rep.Tables = append(rep.Tables, sum)
		rep.Status = Worst(rep.Status, sum.Status)
	}
	rep.Recommendations = Recommend(rep.Tables)
	return rep, nil
}

func (e *Engine) validateTable(ctx context.Context, name string, level Level) TableSummary {
	t := &target{name: name}
	sum := TableSummary{Table: name}

	for _, id := range ChecksFor(level) {
		r := e.runCheck(ctx, id, t)
		sum.Results = append(sum.Results, r)
		if id == CheckExistence && !t.exists {
			break
		}
	}
	sum.Table = t.name
	summarize(&sum)
	if e.opts.Verbose {
		log.Printf("validate: %s %s (%d passed, %d warnings, %d failed, %d errors)",
			sum.Table, sum.Status, sum.Passed, sum.Warnings, sum.Failed, sum.Errors)
	}
	return sum
}

func (e *Engine) runCheck(ctx context.Context, id CheckID, t *target) (r Result) {
	spec := registry[id]
	r = Result{Check: spec.name, Category: spec.category}
	defer func() {
		if p := recover(); p != nil {
			err := ipedserr.Newf(ipedserr.CodeValidationCheck, "%s on %s panicked: %v", spec.name, t.name, p)
			log.Printf("validate: %v\n%s", err, debug.Stack())
			r.Status, r.Message, r.Detail = StatusError, err.Error(), nil
		}
		metrics.RecordCheck(r.Check, string(r.Status))
	}()

	status, msg, detail, err := spec.run(ctx, e, t)
	if err != nil {
		err = ipedserr.Wrapf(err, ipedserr.CodeValidationCheck, "%s on %s", spec.name, t.name)
		return Result{Check: spec.name, Category: spec.category, Status: StatusError, Message: err.Error()}
	}
	r.Status, r.Message, r.Detail = status, msg, detail
	return r
}

// load reads the table schema, row count and (bounded) data.
func (e *Engine) load(ctx context.Context, t *target) error {
	schema, err := e.store.TableSchema(ctx, t.name)
	if err != nil {
		return err
	}
	t.schema = schema
	if t.rows, err = e.store.RowCount(ctx, t.name); err != nil {
		return err
	}
	limit := 0
	if t.rows > int64(e.opts.DuplicateExhaustiveMax) {
		limit = e.opts.DuplicateExhaustiveMax
		t.sampled = true
	}
	t.data, err = e.store.ReadTable(ctx, t.name, limit)
	return err
}

// directoryIDs returns the identifier set of the newest hd<YYYY> table.
func (e *Engine) directoryIDs(ctx context.Context) *directoryIDs {
	if e.directory != nil {
		return e.directory
	}
	d := &directoryIDs{}
	e.directory = d

	best := -1
	for _, n := range e.tables {
		if y, ok := directoryYear(n); ok && y > best {
			best, d.table = y, n
		}
	}
	if d.table == "" {
		return d
	}
	tb, err := e.store.ReadTable(ctx, d.table, 0)
	if err != nil {
		d.err = err
		return d
	}
	idx := tb.ColumnIndex(idColumn)
	if idx < 0 {
		d.err = fmt.Errorf("directory table %s has no %s column", d.table, idColumn)
		return d
	}
	d.ids = make(map[int64]struct{}, tb.Len())
	for _, r := range tb.Rows {
		if v, ok := r[idx].Int64(); ok {
			d.ids[v] = struct{}{}
		}
	}
	return d
}

// Aggregate folds statuses: error > fail > warning > pass.
func Aggregate(results []Result) Status {
	s := StatusPass
	for _, r := range results {
		s = Worst(s, r.Status)
	}
	return s
}

func summarize(s *TableSummary) {
	s.Total = len(s.Results)
	s.Passed, s.Failed, s.Warnings, s.Errors = 0, 0, 0, 0
	for _, r := range s.Results {
		switch r.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusWarning:
			s.Warnings++
		case StatusError:
			s.Errors++
		}
	}
	s.Status = Aggregate(s.Results)
}

// Recommend derives heuristic advice from table summaries.
func Recommend(tables []TableSummary) []string {
	var errored, failing, warned, missing []string
	for _, t := range tables {
		if t.Errors > 0 {
			errored = append(errored, t.Table)
		}
		if t.Failed > t.Passed {
			failing = append(failing, t.Table)
		}
		if t.Warnings > 0 {
			warned = append(warned, t.Table)
		}
		if len(t.Results) > 0 && t.Results[0].Check == CheckExistence.String() && t.Results[0].Status == StatusFail {
			missing = append(missing, t.Table)
		}
	}

	var out []string
	if len(missing) > 0 {
		out = append(out, fmt.Sprintf("Import the %d missing or empty table(s): %s", len(missing), list(missing)))
	}
	if len(errored) > 0 {
		out = append(out, fmt.Sprintf("Investigate %d table(s) with check errors: %s", len(errored), list(errored)))
	}
	if len(failing) > 0 {
		out = append(out, fmt.Sprintf("Review %d table(s) whose failures outnumber passes: %s", len(failing), list(failing)))
	}
	if len(warned) > 0 {
		out = append(out, fmt.Sprintf("Check warning details for %d table(s): %s", len(warned), list(warned)))
	}
	if len(out) == 0 && len(tables) > 0 {
		out = append(out, "All validated tables passed; no action needed")
	}
	return out
}

func list(names []string) string {
	sort.Strings(names)
	const shown = 10
	if len(names) > shown {
		return strings.Join(names[:shown], ", ") + fmt.Sprintf(" and %d more", len(names)-shown)
	}
	return strings.Join(names, ", ")
}
