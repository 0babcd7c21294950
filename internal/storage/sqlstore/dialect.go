// Package sqlstore implements storage.Store on database/sql. Each backend
// supplies a Dialect for the handful of statements that differ.
package sqlstore

import (
	"fmt"
	"strings"

	"ipeds/internal/table"
)

// DDL is the part of a dialect needed to build CREATE TABLE.
type DDL interface {
	Quote(ident string) string
	ColumnType(t table.Type) string
}

// Dialect captures backend differences.
type Dialect interface {
	DDL
	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// MaxParams bounds the bind parameters of one INSERT.
	MaxParams() int
	// ListTablesSQL returns base table names of the current database.
	ListTablesSQL() string
	// ColumnsSQL takes the table name as its only parameter and returns
	// (column name, declared type) ordered by position.
	ColumnsSQL() string
	SelectSQL(table string, limit int) string
	RenameSQL(from, to string) string
	// IsLockError reports whether err means another writer holds the store.
	IsLockError(err error) bool
}

// CreateTableSQL builds the CREATE TABLE statement for cols.
func CreateTableSQL(d DDL, name string, cols []table.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		typ := c.Type
		if typ == table.TypeNull {
			typ = table.TypeText
		}
		parts[i] = fmt.Sprintf("%s %s", d.Quote(c.Name), d.ColumnType(typ))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.Quote(name), strings.Join(parts, ",\n  "))
}

// InsertSQL builds one multi-row INSERT for nrows rows of cols.
func InsertSQL(d Dialect, name string, cols []string, nrows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.Quote(name))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(c))
	}
	b.WriteString(") VALUES ")

	n := 1
	for r := 0; r < nrows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// BatchRows returns how many rows of ncols fit one INSERT.
func BatchRows(d Dialect, ncols int) int {
	if ncols <= 0 {
		return 1
	}
	n := d.MaxParams() / ncols
	if n < 1 {
		n = 1
	}
	// SQL Server caps a VALUES list at 1000 rows; use the same cap everywhere.
	if n > 1000 {
		n = 1000
	}
	return n
}

// QuoteWith doubles q inside ident and wraps it in open/close.
func QuoteWith(ident, open, close string) string {
	return open + strings.ReplaceAll(ident, close, close+close) + close
}
