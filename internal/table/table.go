// Package table holds the in-memory relation used between the normalizer,
// the loader and the consolidator.
//
// A Table is an ordered list of named, typed columns plus positional rows.
// Cells are Values: a small sum over {null, integer, float, text}. Column
// types follow a widening order (Null < Integer < Float < Text) so that two
// tables can always be reconciled by promoting to the looser type.
package table

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is a column type. The zero value is TypeNull (no non-null values seen).
type Type int

const (
	TypeNull Type = iota
	TypeInteger
	TypeFloat
	TypeText
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeText:
		return "text"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Widen returns the looser of a and b.
func Widen(a, b Type) Type {
	if a > b {
		return a
	}
	return b
}

// Value is one cell.
type Value struct {
	Kind Type
	I    int64
	F    float64
	S    string
}

// Null is the NULL cell.
var Null = Value{}

func Int(v int64) Value     { return Value{Kind: TypeInteger, I: v} }
func Float(v float64) Value { return Value{Kind: TypeFloat, F: v} }
func Text(v string) Value   { return Value{Kind: TypeText, S: v} }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.Kind == TypeNull }

// String renders v for hashing, logging and text export. NULL renders as "".
func (v Value) String() string {
	switch v.Kind {
	case TypeInteger:
		return strconv.FormatInt(v.I, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case TypeText:
		return v.S
	default:
		return ""
	}
}

// Float64 returns the numeric value of v and whether it is numeric.
func (v Value) Float64() (float64, bool) {
	switch v.Kind {
	case TypeInteger:
		return float64(v.I), true
	case TypeFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// Int64 returns v as an integer when it holds an integral number.
func (v Value) Int64() (int64, bool) {
	switch v.Kind {
	case TypeInteger:
		return v.I, true
	case TypeFloat:
		if v.F == float64(int64(v.F)) {
			return int64(v.F), true
		}
	case TypeText:
		if n, err := strconv.ParseInt(strings.TrimSpace(v.S), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Convert returns v represented as type t. Conversion to a wider type never
// fails; conversion to a narrower type is attempted and reports ok=false
// when the value does not fit.
func (v Value) Convert(t Type) (Value, bool) {
	if v.Kind == TypeNull || v.Kind == t {
		return v, true
	}
	switch t {
	case TypeText:
		return Text(v.String()), true
	case TypeFloat:
		switch v.Kind {
		case TypeInteger:
			return Float(float64(v.I)), true
		case TypeText:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.S), 64)
			if err != nil {
				return Null, false
			}
			return Float(f), true
		}
	case TypeInteger:
		if n, ok := v.Int64(); ok {
			return Int(n), true
		}
	case TypeNull:
		return Null, true
	}
	return Null, false
}

// Any returns v as a database/sql friendly value.
func (v Value) Any() any {
	switch v.Kind {
	case TypeInteger:
		return v.I
	case TypeFloat:
		return v.F
	case TypeText:
		return v.S
	default:
		return nil
	}
}

// FromAny converts a scanned database value into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case int64:
		return Int(t)
	case int32:
		return Int(int64(t))
	case int:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case bool:
		if t {
			return Int(1)
		}
		return Int(0)
	case string:
		return Text(t)
	case []byte:
		return Text(string(t))
	default:
		return Text(fmt.Sprint(t))
	}
}

// Column is a named, typed column.
type Column struct {
	Name string
	Type Type
}

// Table is an ordered sequence of named typed columns and rows. Every row has
// exactly len(Columns) cells.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]Value
}

// New returns an empty table with the given columns.
func New(name string, cols ...Column) *Table {
	return &Table{Name: name, Columns: append([]Column(nil), cols...)}
}

// ColumnIndex returns the index of the column whose name matches name
// case-insensitively, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Append adds a row. It panics if the row width is wrong, which is always a
// programming error in the caller.
func (t *Table) Append(row ...Value) {
	if len(row) != len(t.Columns) {
		panic(fmt.Sprintf("table %s: row has %d cells, want %d", t.Name, len(row), len(t.Columns)))
	}
	t.Rows = append(t.Rows, row)
}

// InsertColumn inserts col at position pos, filling existing rows with fill.
func (t *Table) InsertColumn(pos int, col Column, fill Value) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(t.Columns) {
		pos = len(t.Columns)
	}
	t.Columns = append(t.Columns, Column{})
	copy(t.Columns[pos+1:], t.Columns[pos:])
	t.Columns[pos] = col

	for i, r := range t.Rows {
		r = append(r, Value{})
		copy(r[pos+1:], r[pos:])
		r[pos] = fill
		t.Rows[i] = r
	}
}

// MoveColumn moves the column at index from so that it ends up at index to,
// shifting the columns in between. Rows are permuted the same way.
func (t *Table) MoveColumn(from, to int) {
	if from == to || from < 0 || from >= len(t.Columns) || to < 0 || to >= len(t.Columns) {
		return
	}
	t.Columns = moveElem(t.Columns, from, to)
	for i, r := range t.Rows {
		t.Rows[i] = moveElem(r, from, to)
	}
}

func moveElem[T any](s []T, from, to int) []T {
	v := s[from]
	if from < to {
		copy(s[from:to], s[from+1:to+1])
	} else {
		copy(s[to+1:from+1], s[to:from])
	}
	s[to] = v
	return s
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }
