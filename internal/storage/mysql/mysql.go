// Package mysql stores tables in MySQL or MariaDB via go-sql-driver/mysql.
//
// MySQL commits implicitly around DDL, so ReplaceTable is not atomic here:
// an interrupted replace can leave <name>__staging behind. The next replace
// of the same table drops it.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"ipeds/internal/storage"
	"ipeds/internal/storage/sqlstore"
	"ipeds/internal/table"
)

// Server error numbers for lock wait timeout and deadlock.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

func init() {
	storage.Register("mysql", Open)
}

// Open parses cfg.DSN (user:pass@tcp(host:3306)/db), connects and pings.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	if mc.DBName == "" {
		return nil, fmt.Errorf("mysql: dsn must name a database")
	}
	mc.ParseTime = false
	mc.MultiStatements = false

	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(conn)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return sqlstore.New("mysql", db, Dialect{}), nil
}

// Dialect is the MySQL flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Quote(id string) string { return sqlstore.QuoteWith(id, "`", "`") }

func (Dialect) ColumnType(t table.Type) string {
	switch t {
	case table.TypeInteger:
		return "BIGINT"
	case table.TypeFloat:
		return "DOUBLE"
	default:
		return "LONGTEXT"
	}
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) MaxParams() int { return 60000 }

func (Dialect) ListTablesSQL() string {
	return "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME"
}

func (Dialect) ColumnsSQL() string {
	return "SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
}

func (d Dialect) SelectSQL(name string, limit int) string {
	q := "SELECT * FROM " + d.Quote(name)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q
}

func (d Dialect) RenameSQL(from, to string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s", d.Quote(from), d.Quote(to))
}

func (Dialect) IsLockError(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errLockWaitTimeout || me.Number == errDeadlock
	}
	return false
}
