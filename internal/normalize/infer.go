package normalize

import (
	"math"
	"strconv"
	"strings"

	"ipeds/internal/table"
)

// InferType returns the narrowest type every non-empty value in values
// parses as, character-first: integers must be plain base-10 without a
// leading zero (so ZIP codes and zero-padded codes stay text), floats must be
// finite and plainly written. With no non-empty values it returns TypeNull.
func InferType(values []string) table.Type {
	seen := false
	allInt, allFloat := true, true
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		seen = true
		if allInt && !isPlainInt(v) {
			allInt = false
		}
		if allFloat && !isPlainFloat(v) {
			allFloat = false
		}
		if !allInt && !allFloat {
			return table.TypeText
		}
	}
	switch {
	case !seen:
		return table.TypeNull
	case allInt:
		return table.TypeInteger
	case allFloat:
		return table.TypeFloat
	default:
		return table.TypeText
	}
}

func isPlainInt(s string) bool {
	d := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if d == "" || (len(d) > 1 && d[0] == '0') {
		return false
	}
	for i := 0; i < len(d); i++ {
		if d[i] < '0' || d[i] > '9' {
			return false
		}
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isPlainFloat(s string) bool {
	d := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if d == "" {
		return false
	}
	digits := 0
	for i := 0; i < len(d); i++ {
		c := d[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' || c == 'e' || c == 'E' || c == '-' || c == '+':
		default:
			return false
		}
	}
	if digits == 0 {
		return false
	}
	// A leading zero must be followed by the decimal point ("0.5", not "007").
	if len(d) > 1 && d[0] == '0' && d[1] != '.' && d[1] != 'e' && d[1] != 'E' {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// ParseAs converts one raw cell to typ. Empty cells become NULL. ok is false
// when the value does not parse as typ.
func ParseAs(raw string, typ table.Type) (table.Value, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return table.Null, true
	}
	switch typ {
	case table.TypeInteger:
		if !isPlainInt(v) {
			return table.Null, false
		}
		n, _ := strconv.ParseInt(v, 10, 64)
		return table.Int(n), true
	case table.TypeFloat:
		if !isPlainFloat(v) {
			return table.Null, false
		}
		f, _ := strconv.ParseFloat(v, 64)
		return table.Float(f), true
	default:
		return table.Text(v), true
	}
}

// typeColumns infers each column's type from the first sample rows and
// converts all cells. A column whose later values do not fit the sampled type
// falls back to text. Columns that are empty in the sample are inferred from
// every row; columns empty everywhere are text.
func typeColumns(names []string, raw [][]string, sample int) *table.Table {
	cols := make([]table.Column, len(names))
	rows := make([][]table.Value, len(raw))
	for i := range rows {
		rows[i] = make([]table.Value, len(names))
	}

	colValues := func(c, limit int) []string {
		if limit <= 0 || limit > len(raw) {
			limit = len(raw)
		}
		out := make([]string, limit)
		for i := 0; i < limit; i++ {
			out[i] = raw[i][c]
		}
		return out
	}

	for c, name := range names {
		typ := InferType(colValues(c, sample))
		if typ == table.TypeNull {
			typ = InferType(colValues(c, 0))
		}
		if typ == table.TypeNull {
			typ = table.TypeText
		}

		fits := true
		for i := range raw {
			v, ok := ParseAs(raw[i][c], typ)
			if !ok {
				fits = false
				break
			}
			rows[i][c] = v
		}
		if !fits {
			typ = table.TypeText
			for i := range raw {
				rows[i][c], _ = ParseAs(raw[i][c], table.TypeText)
			}
		}
		cols[c] = table.Column{Name: name, Type: typ}
	}
	return &table.Table{Columns: cols, Rows: rows}
}
