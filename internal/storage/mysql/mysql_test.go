package mysql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"

	"ipeds/internal/storage"
	"ipeds/internal/storage/sqlstore"
)

func TestDialectSQL(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if got, want := d.Quote("a`b"), "`a``b`"; got != want {
		t.Fatalf("Quote()=%q, want %q", got, want)
	}
	if got, want := d.RenameSQL("x__staging", "x"), "RENAME TABLE `x__staging` TO `x`"; got != want {
		t.Fatalf("RenameSQL()=%q, want %q", got, want)
	}
	if got, want := sqlstore.InsertSQL(d, "t", []string{"a"}, 3), "INSERT INTO `t` (`a`) VALUES (?), (?), (?)"; got != want {
		t.Fatalf("InsertSQL()=%q, want %q", got, want)
	}
}

func TestIsLockError(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if !d.IsLockError(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1205})) {
		t.Fatalf("IsLockError(1205)=false")
	}
	if !d.IsLockError(&mysql.MySQLError{Number: 1213}) {
		t.Fatalf("IsLockError(1213)=false")
	}
	if d.IsLockError(&mysql.MySQLError{Number: 1146}) || d.IsLockError(errors.New("x")) {
		t.Fatalf("IsLockError(other)=true")
	}
}

func TestOpenRejectsDSNWithoutDatabase(t *testing.T) {
	t.Parallel()

	_, err := storage.Open(context.Background(), storage.Config{Driver: "mysql", DSN: "user:pw@tcp(127.0.0.1:1)/"})
	if err == nil {
		t.Fatalf("Open() err=nil, want missing database error")
	}
}
