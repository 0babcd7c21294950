// Package mssql stores tables in Microsoft SQL Server via go-mssqldb.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"ipeds/internal/storage"
	"ipeds/internal/storage/sqlstore"
	"ipeds/internal/table"
)

// Error numbers for lock request timeout and deadlock victim.
const (
	errLockTimeout = 1222
	errDeadlock    = 1205
)

func init() {
	storage.Register("mssql", Open)
}

// Open connects with the "sqlserver" driver and checks connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return sqlstore.New("mssql", db, Dialect{}), nil
}

// Dialect is the T-SQL flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Quote(id string) string { return sqlstore.QuoteWith(id, "[", "]") }

func (Dialect) ColumnType(t table.Type) string {
	switch t {
	case table.TypeInteger:
		return "BIGINT"
	case table.TypeFloat:
		return "FLOAT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// MaxParams stays under the 2100 parameter limit of one request.
func (Dialect) MaxParams() int { return 2000 }

func (Dialect) ListTablesSQL() string {
	return `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`
}

func (Dialect) ColumnsSQL() string {
	return `SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1 ORDER BY ORDINAL_POSITION`
}

func (d Dialect) SelectSQL(name string, limit int) string {
	if limit > 0 {
		return fmt.Sprintf("SELECT TOP (%d) * FROM %s", limit, d.Quote(name))
	}
	return "SELECT * FROM " + d.Quote(name)
}

// RenameSQL uses sp_rename; the new name is not bracket-quoted.
func (d Dialect) RenameSQL(from, to string) string {
	lit := func(s string) string { return "N'" + strings.ReplaceAll(s, "'", "''") + "'" }
	return fmt.Sprintf("EXEC sp_rename %s, %s", lit(d.Quote(from)), lit(to))
}

func (Dialect) IsLockError(err error) bool {
	var me mssql.Error
	if errors.As(err, &me) {
		return me.Number == errLockTimeout || me.Number == errDeadlock
	}
	return false
}
