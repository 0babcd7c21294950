package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"ipeds/internal/ipedserr"
	"ipeds/internal/storage/sqlstore"
	"ipeds/internal/table"
)

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	got := sqlstore.CreateTableSQL(Dialect{}, "hd2023__staging", []table.Column{
		{Name: "UNITID", Type: table.TypeInteger},
		{Name: "TUITION", Type: table.TypeFloat},
		{Name: `odd"name`, Type: table.TypeText},
		{Name: "EMPTY", Type: table.TypeNull},
	})
	want := "CREATE TABLE \"hd2023__staging\" (\n" +
		"  \"UNITID\" BIGINT,\n" +
		"  \"TUITION\" DOUBLE PRECISION,\n" +
		"  \"odd\"\"name\" TEXT,\n" +
		"  \"EMPTY\" TEXT\n)"
	if got != want {
		t.Fatalf("CreateTableSQL()=\n%s\nwant\n%s", got, want)
	}
}

func TestWrapLockErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		lock bool
	}{
		{"lock not available", &pgconn.PgError{Code: "55P03"}, true},
		{"deadlock", fmt.Errorf("copy: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := wrap(tt.err, "replace %s", "hd2023")
			if got := ipedserr.Is(err, ipedserr.CodeWriteLock); got != tt.lock {
				t.Fatalf("Is(wrap(%v), WriteLock)=%v, want %v", tt.err, got, tt.lock)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("wrap() lost cause %v", tt.err)
			}
		})
	}
}
