package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"ipeds/internal/ipedserr"
	"ipeds/internal/normalize"
	"ipeds/internal/storage"
	"ipeds/internal/table"
)

// Store implements storage.Store over a *sql.DB.
//
// ReplaceTable builds <name>__staging inside a transaction, drops the old
// table and renames the staging table into place, so readers see either the
// old or the new table. Backends without transactional DDL (MySQL) lose that
// guarantee but keep the same statement order.
type Store struct {
	db      *sql.DB
	dialect Dialect
	driver  string
}

// New wraps db. The Store owns db and closes it on Close.
func New(driver string, db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d, driver: driver}
}

// DB exposes the handle for backend-specific setup.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// wrap classifies err: lock conflicts become CodeWriteLock.
func (s *Store) wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if s.dialect.IsLockError(err) {
		return ipedserr.Wrap(err, ipedserr.CodeWriteLock, s.driver+": "+msg)
	}
	return fmt.Errorf("%s: %s: %w", s.driver, msg, err)
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.ListTablesSQL())
	if err != nil {
		return nil, s.wrap(err, "list tables")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, s.wrap(err, "list tables")
		}
		if storage.IsInternalTable(name) {
			continue
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, "list tables")
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	names, err := s.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) TableSchema(ctx context.Context, name string) ([]storage.ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.ColumnsSQL(), name)
	if err != nil {
		return nil, s.wrap(err, "schema %s", name)
	}
	defer rows.Close()

	var out []storage.ColumnInfo
	for rows.Next() {
		var c storage.ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, s.wrap(err, "schema %s", name)
		}
		c.Family = normalize.TypeFamily(c.Type)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, "schema %s", name)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: table %s does not exist", s.driver, name)
	}
	return out, nil
}

func (s *Store) RowCount(ctx context.Context, name string) (int64, error) {
	var n int64
	q := "SELECT COUNT(*) FROM " + s.dialect.Quote(name)
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, s.wrap(err, "count %s", name)
	}
	return n, nil
}

func (s *Store) Query(ctx context.Context, query string, args ...any) (*table.Table, error) {
	return s.query(ctx, "", query, args...)
}

func (s *Store) ReadTable(ctx context.Context, name string, limit int) (*table.Table, error) {
	return s.query(ctx, name, s.dialect.SelectSQL(name, limit))
}

func (s *Store) query(ctx context.Context, name, query string, args ...any) (*table.Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(err, "query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, s.wrap(err, "query columns")
	}
	var dbTypes []string
	if cts, err := rows.ColumnTypes(); err == nil {
		dbTypes = make([]string, len(cts))
		for i, ct := range cts {
			dbTypes[i] = ct.DatabaseTypeName()
		}
	}

	var raw [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, s.wrap(err, "query scan")
		}
		raw = append(raw, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, "query")
	}
	return storage.ResultTable(name, cols, dbTypes, raw), nil
}

// ReplaceTable swaps t in as t.Name.
func (s *Store) ReplaceTable(ctx context.Context, t *table.Table) (int64, error) {
	if t == nil || strings.TrimSpace(t.Name) == "" {
		return 0, ipedserr.New(ipedserr.CodeInvalidArgument, "replace table: missing table name")
	}
	if len(t.Columns) == 0 {
		return 0, ipedserr.Newf(ipedserr.CodeInvalidArgument, "replace table %s: no columns", t.Name)
	}
	staging := t.Name + storage.StagingSuffix
	d := s.dialect

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.wrap(err, "begin replace %s", t.Name)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := dropIfExists(ctx, tx, d, staging); err != nil {
		return 0, s.wrap(err, "drop staging %s", staging)
	}
	if _, err := tx.ExecContext(ctx, CreateTableSQL(d, staging, t.Columns)); err != nil {
		return 0, s.wrap(err, "create %s", staging)
	}
	n, err := insertRows(ctx, tx, d, staging, t)
	if err != nil {
		return 0, s.wrap(err, "insert %s", staging)
	}
	if err := dropIfExists(ctx, tx, d, t.Name); err != nil {
		return 0, s.wrap(err, "drop %s", t.Name)
	}
	if _, err := tx.ExecContext(ctx, d.RenameSQL(staging, t.Name)); err != nil {
		return 0, s.wrap(err, "rename %s to %s", staging, t.Name)
	}
	if err := tx.Commit(); err != nil {
		return 0, s.wrap(err, "commit replace %s", t.Name)
	}
	return n, nil
}

func (s *Store) DropTable(ctx context.Context, name string) error {
	return s.wrap(dropIfExists(ctx, s.db, s.dialect, name), "drop %s", name)
}

// RenameTable renames from to to. Case-only renames go through an
// intermediate name because case-insensitive catalogs reject them directly.
func (s *Store) RenameTable(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err, "begin rename %s", from)
	}
	defer tx.Rollback() //nolint:errcheck

	src := from
	if strings.EqualFold(from, to) {
		tmp := strings.ToLower(from) + "__rename"
		if _, err := tx.ExecContext(ctx, s.dialect.RenameSQL(from, tmp)); err != nil {
			return s.wrap(err, "rename %s to %s", from, tmp)
		}
		src = tmp
	}
	if _, err := tx.ExecContext(ctx, s.dialect.RenameSQL(src, to)); err != nil {
		return s.wrap(err, "rename %s to %s", src, to)
	}
	return s.wrap(tx.Commit(), "commit rename %s", from)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func dropIfExists(ctx context.Context, db execer, d Dialect, name string) error {
	_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.Quote(name))
	return err
}

func insertRows(ctx context.Context, db execer, d Dialect, name string, t *table.Table) (int64, error) {
	cols := t.ColumnNames()
	batch := BatchRows(d, len(cols))

	var total int64
	var stmt string
	stmtRows := -1
	args := make([]any, 0, batch*len(cols))
	for start := 0; start < len(t.Rows); start += batch {
		end := start + batch
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		if end-start != stmtRows {
			stmtRows = end - start
			stmt = InsertSQL(d, name, cols, stmtRows)
		}
		args = args[:0]
		for _, row := range t.Rows[start:end] {
			for i, v := range row {
				if cv, ok := v.Convert(t.Columns[i].Type); ok {
					v = cv
				}
				args = append(args, v.Any())
			}
		}
		if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
			return total, err
		}
		total += int64(end - start)
	}
	return total, nil
}
