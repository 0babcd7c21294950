// Package loader writes normalized tables into the store under their
// canonical lowercase name.
package loader

import (
	"context"
	"log"
	"strings"
	"time"

	"ipeds/internal/ipedserr"
	"ipeds/internal/metrics"
	"ipeds/internal/storage"
	"ipeds/internal/table"
)

// Loader is a thin policy layer over storage.Store.
type Loader struct {
	store   storage.Store
	verbose bool
}

// New returns a Loader writing to s.
func New(s storage.Store, verbose bool) *Loader {
	return &Loader{store: s, verbose: verbose}
}

// CanonicalName is the store identity of a table: trimmed and lowercased.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Load creates or fully replaces the table name with t and returns the
// stored row count.
//
// Edge cases:
//   - name is lowercased before any store operation; t.Name is set to it.
//   - Tables whose names differ from the canonical name only by case are
//     dropped, so HD2023 and hd2023 never coexist.
//   - overwrite=false and the table exists: nothing is written and the error
//     is CodeSkipped with the existing row count returned. A lone uppercase
//     twin is renamed to the canonical name first.
//
// Errors:
//   - CodeInvalidArgument for an empty name or a nil table.
//   - CodeWriteLock when another process holds the store.
func (l *Loader) Load(ctx context.Context, t *table.Table, name string, overwrite bool) (n int64, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		switch {
		case ipedserr.Is(err, ipedserr.CodeSkipped):
			status = "skipped"
		case err != nil:
			status = "error"
		}
		metrics.RecordStepStatus("load", status, time.Since(start))
	}()

	canon := CanonicalName(name)
	if canon == "" || t == nil {
		return 0, ipedserr.New(ipedserr.CodeInvalidArgument, "load: missing table or name")
	}

	names, err := l.store.ListTables(ctx)
	if err != nil {
		return 0, err
	}
	exists := false
	var twins []string
	for _, n := range names {
		switch {
		case n == canon:
			exists = true
		case strings.EqualFold(n, canon):
			twins = append(twins, n)
		}
	}

	if !overwrite && (exists || len(twins) > 0) {
		if !exists {
			if err := l.store.RenameTable(ctx, twins[0], canon); err != nil {
				return 0, err
			}
			twins = twins[1:]
		}
		if err := l.dropTwins(ctx, twins); err != nil {
			return 0, err
		}
		count, err := l.store.RowCount(ctx, canon)
		if err != nil {
			return 0, err
		}
		return count, ipedserr.Newf(ipedserr.CodeSkipped, "load %s: table exists (%d rows)", canon, count)
	}

	if err := l.dropTwins(ctx, twins); err != nil {
		return 0, err
	}

	t.Name = canon
	n, err = l.store.ReplaceTable(ctx, t)
	if err != nil {
		return 0, err
	}
	metrics.RecordRows("loaded", n)
	if l.verbose {
		log.Printf("loader: %s replaced (%d rows, %d columns)", canon, n, len(t.Columns))
	}
	return n, nil
}

func (l *Loader) dropTwins(ctx context.Context, twins []string) error {
	for _, tw := range twins {
		if err := l.store.DropTable(ctx, tw); err != nil {
			return err
		}
		log.Printf("loader: dropped case-variant table %s", tw)
	}
	return nil
}
