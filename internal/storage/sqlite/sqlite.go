// Package sqlite is the default embedded store, on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"

	"ipeds/internal/ipedserr"
	"ipeds/internal/storage"
	"ipeds/internal/storage/sqlstore"
	"ipeds/internal/table"
)

// BusyTimeoutMS is how long a writer waits for another connection's lock
// before failing with SQLITE_BUSY.
const BusyTimeoutMS = 5000

const (
	codeBusy   = 5
	codeLocked = 6
)

func init() {
	storage.Register("sqlite", Open)
}

// Open opens (creating if needed) the database file named by cfg.DSN.
//
// Edge cases:
//   - A plain path is turned into a file: URI with busy_timeout set.
//   - ReadOnly opens with mode=ro and never creates the file or its directory.
//   - One connection is used: the store is single-writer.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, ipedserr.New(ipedserr.CodeInvalidArgument, "sqlite: empty dsn")
	}
	if !cfg.ReadOnly {
		if p := filePath(cfg.DSN); p != "" {
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", DSN(cfg.DSN, cfg.ReadOnly))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrapOpen(err, cfg.DSN)
	}
	return sqlstore.New("sqlite", db, Dialect{}), nil
}

func wrapOpen(err error, dsn string) error {
	if (Dialect{}).IsLockError(err) {
		return ipedserr.Wrapf(err, ipedserr.CodeWriteLock, "sqlite: open %s", dsn)
	}
	return fmt.Errorf("sqlite: open %s: %w", dsn, err)
}

// DSN builds the driver DSN for a path or URI.
func DSN(dsn string, readOnly bool) string {
	if dsn == ":memory:" {
		return dsn
	}
	u := dsn
	if !strings.HasPrefix(u, "file:") {
		u = "file:" + u
	}
	var params []string
	if !strings.Contains(u, "busy_timeout") {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", BusyTimeoutMS))
	}
	if readOnly && !strings.Contains(u, "mode=") {
		params = append(params, "mode=ro")
	}
	if len(params) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + strings.Join(params, "&")
}

// filePath returns the filesystem path of dsn, or "" for in-memory databases.
func filePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return p
}

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Quote(id string) string { return sqlstore.QuoteWith(id, `"`, `"`) }

func (Dialect) ColumnType(t table.Type) string {
	switch t {
	case table.TypeInteger:
		return "INTEGER"
	case table.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (Dialect) Placeholder(int) string { return "?" }

// MaxParams stays under SQLITE_MAX_VARIABLE_NUMBER (32766).
func (Dialect) MaxParams() int { return 32000 }

func (Dialect) ListTablesSQL() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
}

func (Dialect) ColumnsSQL() string {
	return `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`
}

func (d Dialect) SelectSQL(name string, limit int) string {
	q := "SELECT * FROM " + d.Quote(name)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q
}

func (d Dialect) RenameSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(from), d.Quote(to))
}

func (Dialect) IsLockError(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case codeBusy, codeLocked:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "database is locked")
}
