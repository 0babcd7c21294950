package normalize

import (
	"strings"

	"ipeds/internal/table"
)

// TypeFamily maps a backend SQL type name to the table.Type it stores.
// Unknown names are text.
func TypeFamily(sqlType string) table.Type {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "INTEGER", "INT", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT", "INT2", "INT4", "INT8", "HUGEINT":
		return table.TypeInteger
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "NUMERIC", "DECIMAL":
		return table.TypeFloat
	case "NULL", "":
		return table.TypeNull
	default:
		return table.TypeText
	}
}

// TypesEquivalent reports whether two SQL type names belong to the same
// family. All character types (TEXT, VARCHAR(n), NVARCHAR(MAX), CHAR, ...)
// are equivalent to each other, as are all integer widths and all
// approximate/exact numerics.
func TypesEquivalent(a, b string) bool {
	return TypeFamily(a) == TypeFamily(b)
}
