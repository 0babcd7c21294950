package mssql

import (
	"errors"
	"fmt"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"

	"ipeds/internal/storage/sqlstore"
)

func TestDialectSQL(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"quote", d.Quote("a]b"), "[a]]b]"},
		{"select limit", d.SelectSQL("hd2023", 10), "SELECT TOP (10) * FROM [hd2023]"},
		{"select all", d.SelectSQL("hd2023", 0), "SELECT * FROM [hd2023]"},
		{"rename", d.RenameSQL("hd2023__staging", "hd2023"), "EXEC sp_rename N'[hd2023__staging]', N'hd2023'"},
		{"rename quote", d.RenameSQL("o'brien", "x"), "EXEC sp_rename N'[o''brien]', N'x'"},
		{"insert", sqlstore.InsertSQL(d, "t", []string{"a", "b"}, 2), "INSERT INTO [t] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4)"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if n := sqlstore.BatchRows(d, 7); n*7 > 2100 {
		t.Fatalf("BatchRows(7)=%d exceeds the parameter limit", n)
	}
}

func TestIsLockError(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if !d.IsLockError(fmt.Errorf("exec: %w", mssql.Error{Number: 1222})) {
		t.Fatalf("IsLockError(1222)=false")
	}
	if !d.IsLockError(mssql.Error{Number: 1205}) {
		t.Fatalf("IsLockError(1205)=false")
	}
	if d.IsLockError(mssql.Error{Number: 208}) || d.IsLockError(errors.New("x")) {
		t.Fatalf("IsLockError(other)=true")
	}
}
