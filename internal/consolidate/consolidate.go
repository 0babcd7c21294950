// Package consolidate unions the per-year tables of one survey family into a
// longitudinal table.
//
// Columns are matched by name, never by position. A column missing from a
// year is filled with NULL for that year's rows, and a column whose type
// differs between years takes the widest type seen. The target table is
// rebuilt from scratch on every run.
package consolidate

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"ipeds/internal/ipedserr"
	"ipeds/internal/loader"
	"ipeds/internal/metrics"
	"ipeds/internal/normalize"
	"ipeds/internal/storage"
	"ipeds/internal/table"
)

// Family is a closed set of survey families that can be consolidated.
type Family int

const (
	Directory Family = iota
	Characteristics
	Variables
	ValueSets
)

type familySpec struct {
	name   string
	prefix string
	target string
	member *regexp.Regexp
}

var families = [...]familySpec{
	Directory:       {"directory", "hd", "hd_all", regexp.MustCompile(`^hd(\d{4})$`)},
	Characteristics: {"characteristics", "ic", "ic_all", regexp.MustCompile(`^ic(\d{4})$`)},
	Variables:       {"variables", "vartable", "vartable_all", regexp.MustCompile(`^vartable(\d{4})$`)},
	ValueSets:       {"valuesets", "valuesets", "valuesets_all", regexp.MustCompile(`^valuesets(\d{4})$`)},
}

// Families returns every family in declaration order.
func Families() []Family {
	out := make([]Family, len(families))
	for i := range families {
		out[i] = Family(i)
	}
	return out
}

func (f Family) valid() bool { return f >= 0 && int(f) < len(families) }

func (f Family) String() string {
	if !f.valid() {
		return fmt.Sprintf("family(%d)", int(f))
	}
	return families[f].name
}

// Prefix is the per-year table name prefix (e.g. "hd").
func (f Family) Prefix() string { return families[f].prefix }

// Target is the consolidated table name (e.g. "hd_all").
func (f Family) Target() string { return families[f].target }

// MemberYear reports whether name is a per-year member of f, and its year.
func (f Family) MemberYear(name string) (int, bool) {
	m := families[f].member.FindStringSubmatch(strings.ToLower(name))
	if m == nil {
		return 0, false
	}
	y, _ := strconv.Atoi(m[1])
	return y, true
}

// ParseFamily accepts a family name, prefix or target ("directory", "hd",
// "hd_all"), case-insensitively.
func ParseFamily(s string) (Family, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	for i, spec := range families {
		if k == spec.name || k == spec.prefix || k == spec.target {
			return Family(i), nil
		}
	}
	return 0, ipedserr.Newf(ipedserr.CodeInvalidArgument, "unknown family %q", s)
}

// Member is one per-year source table.
type Member struct {
	Name    string
	Year    int
	Columns []table.Column
}

// Conflict describes how one member's schema differed from the union. These
// are resolved, not failures.
type Conflict struct {
	Member string
	// Missing lists union columns the member lacks (filled with NULL).
	Missing []string
	// Widened lists member columns whose type was widened in the union.
	Widened []string
}

func (c Conflict) String() string {
	var parts []string
	if len(c.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %s", strings.Join(c.Missing, ",")))
	}
	if len(c.Widened) > 0 {
		parts = append(parts, fmt.Sprintf("widened %s", strings.Join(c.Widened, ",")))
	}
	return c.Member + ": " + strings.Join(parts, "; ")
}

// Err returns the conflict as a CodeSchemaConflict error, for logging.
func (c Conflict) Err() error {
	return ipedserr.New(ipedserr.CodeSchemaConflict, c.String())
}

// Plan is the union schema of a family and how each member maps onto it.
type Plan struct {
	Family    Family
	Target    string
	Columns   []table.Column
	Members   []Member
	Conflicts []Conflict
}

// BuildPlan computes the union schema for members, which must already be
// ordered. Column order is first-seen; names match case-insensitively and
// keep the first spelling. A member column typed TypeNull takes no part in
// widening; a union column no member gives a type to is TEXT.
func BuildPlan(f Family, members []Member) Plan {
	p := Plan{Family: f, Target: f.Target(), Members: members}
	index := map[string]int{}
	for _, m := range members {
		for _, c := range m.Columns {
			k := strings.ToLower(c.Name)
			if i, ok := index[k]; ok {
				p.Columns[i].Type = table.Widen(p.Columns[i].Type, c.Type)
				continue
			}
			index[k] = len(p.Columns)
			p.Columns = append(p.Columns, c)
		}
	}
	for i := range p.Columns {
		if p.Columns[i].Type == table.TypeNull {
			p.Columns[i].Type = table.TypeText
		}
	}

	for _, m := range members {
		var cf Conflict
		have := map[string]table.Type{}
		for _, c := range m.Columns {
			have[strings.ToLower(c.Name)] = c.Type
		}
		for _, u := range p.Columns {
			t, ok := have[strings.ToLower(u.Name)]
			switch {
			case !ok:
				cf.Missing = append(cf.Missing, u.Name)
			case t != u.Type && t != table.TypeNull:
				cf.Widened = append(cf.Widened, u.Name)
			}
		}
		if len(cf.Missing) > 0 || len(cf.Widened) > 0 {
			cf.Member = m.Name
			p.Conflicts = append(p.Conflicts, cf)
		}
	}
	return p
}

// Project maps src onto the plan's columns. Absent columns become NULL
// except YEAR, which is filled with the member's year.
func (p Plan) Project(src *table.Table, year int) [][]table.Value {
	pos := make([]int, len(p.Columns))
	for i, c := range p.Columns {
		pos[i] = src.ColumnIndex(c.Name)
	}
	out := make([][]table.Value, len(src.Rows))
	for r, row := range src.Rows {
		dst := make([]table.Value, len(p.Columns))
		for i, c := range p.Columns {
			if pos[i] < 0 {
				if strings.EqualFold(c.Name, normalize.YearColumn) && year > 0 {
					dst[i] = table.Int(int64(year))
				}
				continue
			}
			v := row[pos[i]]
			if cv, ok := v.Convert(c.Type); ok {
				v = cv
			}
			dst[i] = v
		}
		out[r] = dst
	}
	return out
}

// Result summarizes one consolidation.
type Result struct {
	Family    Family
	Target    string
	Members   []string
	Columns   int
	Rows      int64
	Conflicts []Conflict
}

// Consolidator rebuilds consolidated tables from the store.
type Consolidator struct {
	store   storage.Store
	loader  *loader.Loader
	verbose bool
}

// New returns a Consolidator over s.
func New(s storage.Store, verbose bool) *Consolidator {
	return &Consolidator{store: s, loader: loader.New(s, verbose), verbose: verbose}
}

// Members lists the per-year tables of f in the store, ordered by year.
func (c *Consolidator) Members(ctx context.Context, f Family) ([]Member, error) {
	names, err := c.store.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []Member
	for _, n := range names {
		y, ok := f.MemberYear(n)
		if !ok || seen[strings.ToLower(n)] {
			continue
		}
		seen[strings.ToLower(n)] = true
		info, err := c.store.TableSchema(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, Member{Name: n, Year: y, Columns: storage.Columns(info)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Plan returns the consolidation plan for f without writing anything. It
// uses the stored column types only; Consolidate also discounts columns
// that hold no values in a member.
func (c *Consolidator) Plan(ctx context.Context, f Family) (Plan, error) {
	if !f.valid() {
		return Plan{}, ipedserr.Newf(ipedserr.CodeInvalidArgument, "unknown family %d", int(f))
	}
	members, err := c.Members(ctx, f)
	if err != nil {
		return Plan{}, err
	}
	return BuildPlan(f, members), nil
}

// Consolidate rebuilds f.Target() from every member table.
//
// Edge cases:
//   - No members: nothing is written; the error is CodeSkipped.
//   - The written row count must equal the sum of member row counts.
func (c *Consolidator) Consolidate(ctx context.Context, f Family) (res Result, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("consolidate", err, time.Since(start)) }()

	if !f.valid() {
		return Result{}, ipedserr.Newf(ipedserr.CodeInvalidArgument, "unknown family %d", int(f))
	}
	members, err := c.Members(ctx, f)
	if err != nil {
		return Result{}, err
	}
	if len(members) == 0 {
		return Result{Family: f, Target: f.Target()}, ipedserr.Newf(ipedserr.CodeSkipped, "consolidate %s: no %s<year> tables", f, f.Prefix())
	}

	srcs := make([]*table.Table, len(members))
	for i, m := range members {
		src, err := c.store.ReadTable(ctx, m.Name, 0)
		if err != nil {
			return Result{Family: f, Target: f.Target()}, fmt.Errorf("consolidate %s: read %s: %w", f, m.Name, err)
		}
		srcs[i] = src
		members[i].Columns = emptyAsNull(m.Columns, src)
	}
	p := BuildPlan(f, members)
	res = Result{Family: f, Target: p.Target, Columns: len(p.Columns), Conflicts: p.Conflicts}

	out := table.New(p.Target, p.Columns...)
	var want int64
	for i, m := range p.Members {
		out.Rows = append(out.Rows, p.Project(srcs[i], m.Year)...)
		want += int64(srcs[i].Len())
		res.Members = append(res.Members, m.Name)
	}
	for _, cf := range p.Conflicts {
		if c.verbose {
			log.Printf("consolidate: %v", cf.Err())
		}
	}

	n, err := c.loader.Load(ctx, out, p.Target, true)
	if err != nil {
		return res, err
	}
	if n != want {
		return res, fmt.Errorf("consolidate %s: wrote %d rows, members hold %d", f, n, want)
	}
	res.Rows = n
	log.Printf("consolidate: %s rebuilt from %d tables (%d rows, %d columns, %d schema conflicts)",
		p.Target, len(p.Members), n, len(p.Columns), len(p.Conflicts))
	return res, nil
}

// emptyAsNull retypes columns with no non-NULL value in src as TypeNull.
func emptyAsNull(cols []table.Column, src *table.Table) []table.Column {
	out := make([]table.Column, len(cols))
	copy(out, cols)
	for i, c := range out {
		idx := src.ColumnIndex(c.Name)
		if idx < 0 {
			continue
		}
		empty := true
		for _, row := range src.Rows {
			if !row[idx].IsNull() {
				empty = false
				break
			}
		}
		if empty {
			out[i].Type = table.TypeNull
		}
	}
	return out
}
