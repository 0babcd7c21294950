// Package storage defines the analytical store the pipeline writes to and the
// query surface it exposes downstream, plus a registry of backends.
//
// Backends register themselves from init(); import
// "ipeds/internal/storage/all" to get every supported driver.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ipeds/internal/table"
)

// Config selects and opens a backend.
//
// Edge cases:
//   - Driver must match a registered backend.
//   - ReadOnly is honored by backends that support it (sqlite); others log
//     nothing and ignore it.
type Config struct {
	Driver   string
	DSN      string
	ReadOnly bool
}

// ColumnInfo is one column of a stored table as the backend reports it.
type ColumnInfo struct {
	Name string
	// Type is the backend's declared type name (e.g. "INTEGER", "nvarchar").
	Type string
	// Family is Type mapped onto the table model.
	Family table.Type
}

// Store is the analytical store.
//
// Table names are passed through as given. The lowercase naming policy is
// enforced by the loader, not here.
//
// Write operations (ReplaceTable, DropTable, RenameTable) are individually
// atomic where the backend allows transactional DDL. When another process
// holds the write lock they fail with ipedserr.CodeWriteLock.
type Store interface {
	// Close releases connections. Call once.
	Close() error
	// Driver returns the registered driver name.
	Driver() string

	ListTables(ctx context.Context) ([]string, error)
	// TableExists matches name exactly (case-sensitive).
	TableExists(ctx context.Context, name string) (bool, error)
	TableSchema(ctx context.Context, name string) ([]ColumnInfo, error)
	RowCount(ctx context.Context, name string) (int64, error)
	Query(ctx context.Context, query string, args ...any) (*table.Table, error)
	// ReadTable returns up to limit rows of name; limit <= 0 reads all rows.
	ReadTable(ctx context.Context, name string, limit int) (*table.Table, error)

	// ReplaceTable creates or fully replaces the table t.Name with t and
	// returns the stored row count.
	ReplaceTable(ctx context.Context, t *table.Table) (int64, error)
	// DropTable drops name if it exists.
	DropTable(ctx context.Context, name string) error
	// RenameTable renames from to to. A case-only rename is allowed.
	RenameTable(ctx context.Context, from, to string) error
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under driver.
//
// Panics:
//   - If driver is empty, f is nil, or driver is already registered.
func Register(driver string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if driver == "" {
		panic("storage: Register called with empty driver")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[driver]; exists {
		panic(fmt.Sprintf("storage: factory already registered for driver=%q", driver))
	}
	factories[driver] = f
}

// Drivers lists registered drivers, sorted.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open constructs a Store using the registered backend factory.
//
// Errors:
//   - cfg.Driver empty or unregistered.
//   - Whatever the factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	d := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if d == "" {
		return nil, fmt.Errorf("storage: missing driver")
	}

	mu.RLock()
	f := factories[d]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported driver=%s (registered: %s)", d, strings.Join(Drivers(), ", "))
	}
	cfg.Driver = d
	return f(ctx, cfg)
}

// StagingSuffix names the scratch table ReplaceTable builds before swapping.
// ListTables hides tables with this suffix.
const StagingSuffix = "__staging"

// IsInternalTable reports whether name is backend scratch space.
func IsInternalTable(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), StagingSuffix)
}
