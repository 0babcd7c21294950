package validate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"ipeds/internal/consolidate"
	"ipeds/internal/normalize"
	"ipeds/internal/rowhash"
	"ipeds/internal/table"
)

const (
	idColumn   = normalize.IDColumn
	yearColumn = normalize.YearColumn

	idMin = 100000
	idMax = 999999

	maxExamples = 5
)

// criticalColumns are checked for null rates when present.
var criticalColumns = []string{idColumn, yearColumn, "INSTNM"}

// expectedTypes are SQL type names the known columns should have.
var expectedTypes = map[string]string{
	idColumn:   "INTEGER",
	yearColumn: "INTEGER",
	"INSTNM":   "TEXT",
	"CITY":     "TEXT",
	"STABBR":   "VARCHAR",
	"ZIP":      "TEXT",
	"OPEID":    "TEXT",
	"WEBADDR":  "TEXT",
}

type valueRange struct{ min, max float64 }

// knownRanges bound columns whose plausible values are known.
var knownRanges = map[string]valueRange{
	yearColumn: {1980, 2100},
	"LATITUDE": {-90, 90},
	"LONGITUD": {-180, 180},
	"FIPS":     {1, 78},
}

// mojibake are UTF-8 sequences that were decoded as Windows-1252 once too often.
var mojibake = []string{"Ã©", "Ã¨", "Ã¡", "Ã³", "Ã±", "Ã¼", "â€™", "â€œ", "â€"}

var errNoData = errors.New("table data not loaded")

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// grade maps a bad-value rate onto a status.
func grade(rate, warnAbove, failAbove float64) Status {
	switch {
	case rate > failAbove:
		return StatusFail
	case rate > warnAbove:
		return StatusWarning
	default:
		return StatusPass
	}
}

func pct(r float64) string { return fmt.Sprintf("%.2f%%", r*100) }

func checkExistence(ctx context.Context, e *Engine, t *target) (Status, string, map[string]any, error) {
	actual := ""
	for _, n := range e.tables {
		if n == t.name {
			actual = n
			break
		}
	}
	if actual == "" {
		for _, n := range e.tables {
			if strings.EqualFold(n, t.name) {
				actual = n
				break
			}
		}
	}
	if actual == "" {
		return StatusFail, fmt.Sprintf("table %s does not exist", t.name), nil, nil
	}
	t.name = actual
	t.exists = true

	if err := e.load(ctx, t); err != nil {
		return "", "", nil, err
	}
	detail := map[string]any{"rows": t.rows, "columns": len(t.schema)}
	if t.rows == 0 {
		return StatusFail, "table is empty", detail, nil
	}
	return StatusPass, fmt.Sprintf("%d rows, %d columns", t.rows, len(t.schema)), detail, nil
}

func checkIDCompleteness(_ context.Context, _ *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	idx := t.column(idColumn)
	if idx < 0 {
		return StatusPass, "no identifier column", nil, nil
	}
	nulls := 0
	for _, r := range t.data.Rows {
		if r[idx].IsNull() {
			nulls++
		}
	}
	rate := ratio(nulls, t.data.Len())
	return grade(rate, 0, 0.05), fmt.Sprintf("%d of %d identifiers missing (%s)", nulls, t.data.Len(), pct(rate)),
		map[string]any{"missing": nulls}, nil
}

func checkIDRange(_ context.Context, _ *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	idx := t.column(idColumn)
	if idx < 0 {
		return StatusPass, "no identifier column", nil, nil
	}
	bad, seen := 0, 0
	var examples []string
	for _, r := range t.data.Rows {
		v := r[idx]
		if v.IsNull() {
			continue
		}
		seen++
		if n, ok := v.Int64(); ok && n >= idMin && n <= idMax {
			continue
		}
		bad++
		if len(examples) < maxExamples {
			examples = append(examples, v.String())
		}
	}
	rate := ratio(bad, seen)
	msg := fmt.Sprintf("%d of %d identifiers outside %d-%d", bad, seen, idMin, idMax)
	var detail map[string]any
	if bad > 0 {
		detail = map[string]any{"examples": examples}
	}
	return grade(rate, 0, 0.01), msg, detail, nil
}

// checkYearConsistency compares YEAR values with the year in the table name.
// Disagreement is a warning, never a failure.
func checkYearConsistency(_ context.Context, _ *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	want, ok := normalize.DeriveYear(t.name)
	if !ok {
		return StatusPass, "no year in table name", nil, nil
	}
	idx := t.column(yearColumn)
	if idx < 0 {
		return StatusWarning, fmt.Sprintf("no %s column (name says %d)", yearColumn, want), nil, nil
	}

	years := map[int64]int{}
	for _, r := range t.data.Rows {
		if y, ok := r[idx].Int64(); ok {
			years[y]++
		}
	}
	if len(years) == 0 {
		if t.data.Len() == 0 {
			return StatusPass, "no rows", nil, nil
		}
		return StatusWarning, fmt.Sprintf("%s is empty (name says %d)", yearColumn, want), nil, nil
	}
	if len(years) == 1 && years[int64(want)] > 0 {
		return StatusPass, fmt.Sprintf("%s matches name (%d)", yearColumn, want), nil, nil
	}

	found := make([]int64, 0, len(years))
	for y := range years {
		found = append(found, y)
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	return StatusWarning, fmt.Sprintf("%s values %v differ from name-derived %d", yearColumn, found, want),
		map[string]any{"expected": want, "found": found}, nil
}

func checkDuplicates(_ context.Context, _ *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	set := rowhash.NewSet(t.data.Len())
	dups := 0
	for _, r := range t.data.Rows {
		if !set.Add(r) {
			dups++
		}
	}
	rate := ratio(dups, t.data.Len())
	mode := "exhaustive"
	if t.sampled {
		mode = fmt.Sprintf("first %d of %d rows", t.data.Len(), t.rows)
	}
	return grade(rate, 0, 0.01), fmt.Sprintf("%d duplicate rows (%s, %s)", dups, pct(rate), mode),
		map[string]any{"duplicates": dups, "sampled": t.sampled}, nil
}

func checkNullRates(_ context.Context, _ *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	status := StatusPass
	rates := map[string]any{}
	var parts []string
	for _, c := range criticalColumns {
		idx := t.column(c)
		if idx < 0 {
			continue
		}
		nulls := 0
		for _, r := range t.data.Rows {
			if r[idx].IsNull() || (r[idx].Kind == table.TypeText && strings.TrimSpace(r[idx].S) == "") {
				nulls++
			}
		}
		rate := ratio(nulls, t.data.Len())
		rates[c] = rate
		status = Worst(status, grade(rate, 0.05, 0.5))
		parts = append(parts, fmt.Sprintf("%s %s", c, pct(rate)))
	}
	if len(parts) == 0 {
		return StatusPass, "no critical columns", nil, nil
	}
	return status, "null rates: " + strings.Join(parts, ", "), rates, nil
}

func checkColumnTypes(_ context.Context, _ *Engine, t *target) (Status, string, map[string]any, error) {
	status := StatusPass
	mismatches := map[string]any{}
	for _, c := range t.schema {
		want, ok := expectedTypes[strings.ToUpper(c.Name)]
		if !ok || normalize.TypesEquivalent(c.Type, want) {
			continue
		}
		mismatches[c.Name] = fmt.Sprintf("%s, want %s", c.Type, want)
		if strings.EqualFold(c.Name, idColumn) || strings.EqualFold(c.Name, yearColumn) {
			status = Worst(status, StatusFail)
		} else {
			status = Worst(status, StatusWarning)
		}
	}
	if len(mismatches) == 0 {
		return StatusPass, "known columns have expected types", nil, nil
	}
	return status, fmt.Sprintf("%d column(s) with unexpected types", len(mismatches)), mismatches, nil
}

func checkCompleteness(_ context.Context, _ *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	total := t.data.Len() * len(t.data.Columns)
	if total == 0 {
		return StatusPass, "no cells", nil, nil
	}
	filled := 0
	for _, r := range t.data.Rows {
		for _, v := range r {
			if !v.IsNull() {
				filled++
			}
		}
	}
	p := 100 * ratio(filled, total)
	status := StatusFail
	switch {
	case p >= 90:
		status = StatusPass
	case p >= 50:
		status = StatusWarning
	}
	return status, fmt.Sprintf("%.1f%% of cells populated", p), map[string]any{"percent": p}, nil
}

var yearedName = regexp.MustCompile(`^([a-z_]*?)(\d{4})(.*)$`)

// checkSchemaDrift compares columns with the newest earlier table of the same
// name pattern (c2022_a against c2021_a).
func checkSchemaDrift(ctx context.Context, e *Engine, t *target) (Status, string, map[string]any, error) {
	m := yearedName.FindStringSubmatch(strings.ToLower(t.name))
	year, ok := normalize.DeriveYear(t.name)
	if m == nil || !ok {
		return StatusPass, "no yearly siblings", nil, nil
	}

	prev, prevYear := "", -1
	for _, n := range e.tables {
		sm := yearedName.FindStringSubmatch(strings.ToLower(n))
		if sm == nil || sm[1] != m[1] || sm[3] != m[3] || strings.EqualFold(n, t.name) {
			continue
		}
		y, ok := normalize.DeriveYear(n)
		if ok && y < year && y > prevYear {
			prev, prevYear = n, y
		}
	}
	if prev == "" {
		return StatusPass, "no earlier sibling table", nil, nil
	}

	prevSchema, err := e.store.TableSchema(ctx, prev)
	if err != nil {
		return "", "", nil, err
	}
	cur := map[string]bool{}
	for _, c := range t.schema {
		cur[strings.ToLower(c.Name)] = true
	}
	old := map[string]bool{}
	var removed []string
	for _, c := range prevSchema {
		old[strings.ToLower(c.Name)] = true
		if !cur[strings.ToLower(c.Name)] {
			removed = append(removed, c.Name)
		}
	}
	var added []string
	for _, c := range t.schema {
		if !old[strings.ToLower(c.Name)] {
			added = append(added, c.Name)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return StatusPass, "same columns as " + prev, nil, nil
	}
	return StatusWarning, fmt.Sprintf("vs %s: %d added, %d removed", prev, len(added), len(removed)),
		map[string]any{"previous": prev, "added": added, "removed": removed}, nil
}

func directoryYear(name string) (int, bool) {
	return consolidate.Directory.MemberYear(name)
}

func checkReferential(ctx context.Context, e *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	idx := t.column(idColumn)
	if idx < 0 {
		return StatusPass, "no identifier column", nil, nil
	}
	d := e.directoryIDs(ctx)
	if d.err != nil {
		return "", "", nil, d.err
	}
	if d.table == "" {
		return StatusWarning, "no directory table to check against", nil, nil
	}
	if strings.EqualFold(d.table, t.name) {
		return StatusPass, "table is the reference directory", nil, nil
	}

	distinct := map[int64]bool{}
	for _, r := range t.data.Rows {
		if v, ok := r[idx].Int64(); ok {
			distinct[v] = true
		}
	}
	orphans := 0
	var examples []int64
	for id := range distinct {
		if _, ok := d.ids[id]; !ok {
			orphans++
			examples = append(examples, id)
		}
	}
	sort.Slice(examples, func(i, j int) bool { return examples[i] < examples[j] })
	if len(examples) > maxExamples {
		examples = examples[:maxExamples]
	}
	rate := ratio(orphans, len(distinct))
	msg := fmt.Sprintf("%d of %d identifiers not in %s", orphans, len(distinct), d.table)
	var detail map[string]any
	if orphans > 0 {
		detail = map[string]any{"directory": d.table, "examples": examples}
	}
	return grade(rate, 0, 0.05), msg, detail, nil
}

func checkValueRanges(_ context.Context, _ *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	status := StatusPass
	out := map[string]any{}
	checked := 0
	for col, rg := range knownRanges {
		idx := t.column(col)
		if idx < 0 {
			continue
		}
		checked++
		bad, seen := 0, 0
		for _, r := range t.data.Rows {
			f, ok := r[idx].Float64()
			if !ok {
				if iv, ok := r[idx].Int64(); ok {
					f = float64(iv)
				} else {
					continue
				}
			}
			seen++
			if f < rg.min || f > rg.max {
				bad++
			}
		}
		if bad > 0 {
			out[col] = bad
			status = Worst(status, grade(ratio(bad, seen), 0, 0.01))
		}
	}
	if checked == 0 {
		return StatusPass, "no range-checked columns", nil, nil
	}
	if len(out) == 0 {
		return StatusPass, fmt.Sprintf("%d column(s) within known ranges", checked), nil, nil
	}
	return status, fmt.Sprintf("%d column(s) with out-of-range values", len(out)), out, nil
}

// suspiciousText reports replacement characters, stray controls and
// double-encoded UTF-8.
func suspiciousText(s string) bool {
	for _, r := range s {
		if r == '\uFFFD' || (unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r') {
			return true
		}
	}
	for _, m := range mojibake {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func checkEncoding(_ context.Context, _ *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	bad := 0
	var examples []string
	for _, r := range t.data.Rows {
		for i, v := range r {
			if v.Kind != table.TypeText || !suspiciousText(v.S) {
				continue
			}
			bad++
			if len(examples) < maxExamples {
				examples = append(examples, fmt.Sprintf("%s=%q", t.data.Columns[i].Name, v.S))
			}
		}
	}
	if bad == 0 {
		return StatusPass, "no encoding anomalies", nil, nil
	}
	return StatusWarning, fmt.Sprintf("%d text cells with encoding anomalies", bad), map[string]any{"examples": examples}, nil
}

func checkOutliers(_ context.Context, e *Engine, t *target) (Status, string, map[string]any, error) {
	if t.data == nil {
		return "", "", nil, errNoData
	}
	const minValues = 10
	flagged := map[string]any{}
	for i, c := range t.data.Columns {
		if c.Type != table.TypeInteger && c.Type != table.TypeFloat {
			continue
		}
		if strings.EqualFold(c.Name, idColumn) || strings.EqualFold(c.Name, yearColumn) {
			continue
		}
		var sum, hi float64
		n := 0
		for _, r := range t.data.Rows {
			f, ok := r[i].Float64()
			if !ok {
				continue
			}
			if n == 0 || f > hi {
				hi = f
			}
			sum += f
			n++
		}
		if n < minValues {
			continue
		}
		mean := sum / float64(n)
		if mean > 0 && hi > e.opts.OutlierFactor*mean {
			flagged[c.Name] = fmt.Sprintf("max %g, mean %.4g", hi, mean)
		}
	}
	if len(flagged) == 0 {
		return StatusPass, "no numeric outliers", nil, nil
	}
	return StatusWarning, fmt.Sprintf("%d column(s) with max > %g x mean", len(flagged), e.opts.OutlierFactor), flagged, nil
}
