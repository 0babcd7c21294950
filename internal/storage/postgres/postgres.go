// Package postgres stores tables in PostgreSQL through a pgx connection pool.
// ReplaceTable streams rows with COPY inside one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"ipeds/internal/ipedserr"
	"ipeds/internal/normalize"
	"ipeds/internal/storage"
	"ipeds/internal/storage/sqlstore"
	"ipeds/internal/table"
)

// LockTimeout bounds how long a replace waits for another writer.
const LockTimeout = 5 * time.Second

// SQLSTATEs treated as "another writer holds the table".
const (
	codeLockNotAvailable = "55P03"
	codeDeadlock         = "40P01"
)

func init() {
	storage.Register("postgres", Open)
}

// Store implements storage.Store for Postgres.
type Store struct {
	pool  *pgxpool.Pool
	types *pgtype.Map
}

// Open creates the pool and checks connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool, types: pgtype.NewMap()}, nil
}

func (s *Store) Driver() string { return "postgres" }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Dialect covers the DDL helpers shared with sqlstore.
type Dialect struct{}

func (Dialect) Quote(id string) string { return sqlstore.QuoteWith(id, `"`, `"`) }

func (Dialect) ColumnType(t table.Type) string {
	switch t {
	case table.TypeInteger:
		return "BIGINT"
	case table.TypeFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// IsLockError reports lock_not_available and deadlock_detected.
func IsLockError(err error) bool {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == codeLockNotAvailable || pe.Code == codeDeadlock
	}
	return false
}

func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if IsLockError(err) {
		return ipedserr.Wrap(err, ipedserr.CodeWriteLock, "postgres: "+msg)
	}
	return fmt.Errorf("postgres: %s: %w", msg, err)
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, wrap(err, "list tables")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap(err, "list tables")
	}
	out := names[:0]
	for _, n := range names {
		if !storage.IsInternalTable(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables
WHERE table_schema = current_schema() AND table_name = $1)`, name).Scan(&ok)
	return ok, wrap(err, "exists %s", name)
}

func (s *Store) TableSchema(ctx context.Context, name string) ([]storage.ColumnInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, wrap(err, "schema %s", name)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (storage.ColumnInfo, error) {
		var c storage.ColumnInfo
		err := r.Scan(&c.Name, &c.Type)
		c.Family = normalize.TypeFamily(c.Type)
		return c, err
	})
	if err != nil {
		return nil, wrap(err, "schema %s", name)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("postgres: table %s does not exist", name)
	}
	return out, nil
}

func (s *Store) RowCount(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+Dialect{}.Quote(name)).Scan(&n)
	return n, wrap(err, "count %s", name)
}

func (s *Store) Query(ctx context.Context, query string, args ...any) (*table.Table, error) {
	return s.query(ctx, "", query, args...)
}

func (s *Store) ReadTable(ctx context.Context, name string, limit int) (*table.Table, error) {
	q := "SELECT * FROM " + Dialect{}.Quote(name)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.query(ctx, name, q)
}

func (s *Store) query(ctx context.Context, name, query string, args ...any) (*table.Table, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap(err, "query")
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	dbTypes := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
		if t, ok := s.types.TypeForOID(fd.DataTypeOID); ok {
			dbTypes[i] = t.Name
		}
	}

	var raw [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, wrap(err, "query scan")
		}
		for i, v := range vals {
			if n, ok := v.(pgtype.Numeric); ok {
				f, _ := n.Float64Value()
				vals[i] = nil
				if f.Valid {
					vals[i] = f.Float64
				}
			}
		}
		raw = append(raw, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "query")
	}
	return storage.ResultTable(name, cols, dbTypes, raw), nil
}

// ReplaceTable creates <name>__staging, COPYs the rows in, drops the old
// table and renames staging into place, all in one transaction.
func (s *Store) ReplaceTable(ctx context.Context, t *table.Table) (int64, error) {
	if t == nil || strings.TrimSpace(t.Name) == "" || len(t.Columns) == 0 {
		return 0, ipedserr.New(ipedserr.CodeInvalidArgument, "replace table: missing name or columns")
	}
	d := Dialect{}
	staging := t.Name + storage.StagingSuffix

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, wrap(err, "begin replace %s", t.Name)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stmts := []string{
		fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", LockTimeout.Milliseconds()),
		"DROP TABLE IF EXISTS " + d.Quote(staging),
		sqlstore.CreateTableSQL(d, staging, t.Columns),
	}
	for _, q := range stmts {
		if _, err := tx.Exec(ctx, q); err != nil {
			return 0, wrap(err, "prepare %s", staging)
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, t.ColumnNames(), pgx.CopyFromSlice(len(t.Rows), func(i int) ([]any, error) {
		row := t.Rows[i]
		out := make([]any, len(row))
		for c, v := range row {
			if cv, ok := v.Convert(t.Columns[c].Type); ok {
				v = cv
			}
			out[c] = v.Any()
		}
		return out, nil
	}))
	if err != nil {
		return 0, wrap(err, "copy %s", staging)
	}

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+d.Quote(t.Name)); err != nil {
		return 0, wrap(err, "drop %s", t.Name)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(staging), d.Quote(t.Name))); err != nil {
		return 0, wrap(err, "rename %s", staging)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, wrap(err, "commit replace %s", t.Name)
	}
	return n, nil
}

func (s *Store) DropTable(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+Dialect{}.Quote(name))
	return wrap(err, "drop %s", name)
}

// RenameTable renames from to to. Postgres identifiers are quoted, so a
// case-only rename is a plain rename.
func (s *Store) RenameTable(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	d := Dialect{}
	_, err := s.pool.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(from), d.Quote(to)))
	return wrap(err, "rename %s to %s", from, to)
}
