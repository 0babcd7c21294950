package normalize

import (
	"path"
	"strings"

	"ipeds/internal/table"
)

// YearColumn and IDColumn are the canonical key column names.
const (
	YearColumn = "YEAR"
	IDColumn   = "UNITID"
)

// DeriveYear extracts the data year from a table or file name. Rules are
// tried in this order and the first match wins:
//
//  1. a run of exactly four digits starting with "20": that year
//     (hd2023 -> 2023, c2022_a -> 2022)
//  2. any other run of exactly four digits YYZZ: an academic or fiscal range,
//     which resolves to its ending year 2000+ZZ (sfa1819_p1 -> 2019)
//  3. a run of exactly two digits at the very end of the name: 2000+NN
//     (ef19 -> 2019)
//
// Otherwise ok is false. Digit runs are maximal, so "x20231" matches nothing.
func DeriveYear(name string) (year int, ok bool) {
	name = strings.ToLower(name)
	name = strings.TrimSuffix(name, path.Ext(name))
	runs := digitRuns(name)

	for _, r := range runs {
		if len(r.s) == 4 && strings.HasPrefix(r.s, "20") {
			return atoi(r.s), true
		}
	}
	for _, r := range runs {
		if len(r.s) == 4 {
			return 2000 + atoi(r.s[2:]), true
		}
	}
	if n := len(runs); n > 0 {
		last := runs[n-1]
		if len(last.s) == 2 && last.end == len(name) {
			return 2000 + atoi(last.s), true
		}
	}
	return 0, false
}

type digitRun struct {
	s   string
	end int // byte offset just past the run
}

func digitRuns(s string) []digitRun {
	var out []digitRun
	start := -1
	for i := 0; i <= len(s); i++ {
		isDigit := i < len(s) && s[i] >= '0' && s[i] <= '9'
		switch {
		case isDigit && start < 0:
			start = i
		case !isDigit && start >= 0:
			out = append(out, digitRun{s: s[start:i], end: i})
			start = -1
		}
	}
	return out
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// EnsureYearColumn gives t a YEAR column in canonical position: right after
// UNITID when present, else first.
//
// An existing column named year in any case is renamed to YEAR and moved;
// its values are kept. Otherwise, when ok is true, a new integer YEAR column
// filled with year is inserted. With ok false and no existing column, t is
// left unchanged. Calling it again is a no-op.
func EnsureYearColumn(t *table.Table, year int, ok bool) {
	target := func() int {
		if id := t.ColumnIndex(IDColumn); id >= 0 {
			return id + 1
		}
		return 0
	}

	if i := t.ColumnIndex(YearColumn); i >= 0 {
		t.Columns[i].Name = YearColumn
		to := target()
		if i < to {
			// Removing i shifts UNITID left by one.
			to--
		}
		t.MoveColumn(i, to)
		return
	}
	if !ok {
		return
	}
	t.InsertColumn(target(), table.Column{Name: YearColumn, Type: table.TypeInteger}, table.Int(int64(year)))
}
