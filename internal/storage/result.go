package storage

import (
	"ipeds/internal/normalize"
	"ipeds/internal/table"
)

// ResultTable turns scanned database rows into a table.Table.
//
// dbTypes holds the driver's type name per column (may be empty). A column
// whose declared type maps to integer or float has its cells converted to
// that type, which undoes drivers that hand numbers back as text. Columns
// without a usable declared type take the widest kind seen, or text.
func ResultTable(name string, cols, dbTypes []string, raw [][]any) *table.Table {
	t := table.New(name)
	declared := make([]table.Type, len(cols))
	for i, c := range cols {
		if i < len(dbTypes) {
			declared[i] = normalize.TypeFamily(dbTypes[i])
		}
		t.Columns = append(t.Columns, table.Column{Name: c})
	}

	seen := make([]table.Type, len(cols))
	t.Rows = make([][]table.Value, 0, len(raw))
	for _, r := range raw {
		row := make([]table.Value, len(cols))
		for i := range cols {
			var v table.Value
			if i < len(r) {
				v = table.FromAny(r[i])
			}
			if d := declared[i]; d == table.TypeInteger || d == table.TypeFloat {
				if cv, ok := v.Convert(d); ok {
					v = cv
				}
			}
			row[i] = v
			seen[i] = table.Widen(seen[i], v.Kind)
		}
		t.Rows = append(t.Rows, row)
	}

	for i := range t.Columns {
		typ := table.Widen(declared[i], seen[i])
		if typ == table.TypeNull {
			typ = table.TypeText
		}
		t.Columns[i].Type = typ
		if typ == seen[i] {
			continue
		}
		for _, row := range t.Rows {
			if cv, ok := row[i].Convert(typ); ok {
				row[i] = cv
			}
		}
	}
	return t
}

// Columns converts backend column info to table columns.
func Columns(info []ColumnInfo) []table.Column {
	out := make([]table.Column, len(info))
	for i, c := range info {
		out[i] = table.Column{Name: c.Name, Type: c.Family}
	}
	return out
}
