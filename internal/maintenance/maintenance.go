// Package maintenance holds one-off store housekeeping: bringing legacy
// mixed-case tables to their canonical lowercase names, dropping and renaming.
package maintenance

import (
	"context"
	"log"
	"sort"
	"strings"

	"ipeds/internal/ipedserr"
	"ipeds/internal/loader"
	"ipeds/internal/storage"
)

// Op is what LowercaseTables did, or would do, to one table.
type Op string

const (
	OpRename Op = "rename"
	OpDrop   Op = "drop"
	OpKeep   Op = "keep"
)

// Action is one planned or applied change.
type Action struct {
	Op   Op
	From string
	To   string
}

func (a Action) String() string {
	switch a.Op {
	case OpRename:
		return "rename " + a.From + " -> " + a.To
	case OpDrop:
		return "drop " + a.From + " (twin of " + a.To + ")"
	default:
		return "keep " + a.From + " (twin of " + a.To + " exists)"
	}
}

// LowercaseOptions controls LowercaseTables.
type LowercaseOptions struct {
	// DropTwins drops a mixed-case table whose lowercase name is already
	// taken. Otherwise such tables are kept and reported.
	DropTwins bool
	DryRun    bool
}

// LowercaseTables renames every table whose name is not lowercase to its
// lowercase form. Running it again is a no-op.
//
// Edge cases:
//   - When the lowercase name already exists, the lowercase table wins: the
//     mixed-case twin is dropped (DropTwins) or left alone (OpKeep).
//   - Two mixed-case spellings of one name: the first in sort order is
//     renamed, the rest are twins.
func LowercaseTables(ctx context.Context, s storage.Store, opts LowercaseOptions) ([]Action, error) {
	names, err := s.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	taken := make(map[string]bool, len(names))
	for _, n := range names {
		if n == strings.ToLower(n) {
			taken[n] = true
		}
	}

	var out []Action
	for _, n := range names {
		canon := loader.CanonicalName(n)
		if n == canon {
			continue
		}
		a := Action{Op: OpRename, From: n, To: canon}
		if taken[canon] {
			a.Op = OpKeep
			if opts.DropTwins {
				a.Op = OpDrop
			}
		}
		taken[canon] = true
		out = append(out, a)
		if opts.DryRun {
			continue
		}

		switch a.Op {
		case OpRename:
			err = s.RenameTable(ctx, a.From, a.To)
		case OpDrop:
			err = s.DropTable(ctx, a.From)
		}
		if err != nil {
			return out, err
		}
		log.Printf("maintenance: %s", a)
	}
	return out, nil
}

// Drop removes the table name.
//
// Errors:
//   - CodeInvalidArgument when name is empty or no such table exists.
func Drop(ctx context.Context, s storage.Store, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ipedserr.New(ipedserr.CodeInvalidArgument, "drop: empty table name")
	}
	ok, err := s.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return ipedserr.Newf(ipedserr.CodeInvalidArgument, "drop: no table %s", name)
	}
	if err := s.DropTable(ctx, name); err != nil {
		return err
	}
	log.Printf("maintenance: dropped %s", name)
	return nil
}

// Rename renames from to the canonical form of to.
//
// Errors:
//   - CodeInvalidArgument when either name is empty, from does not exist, or
//     to is taken by another table.
func Rename(ctx context.Context, s storage.Store, from, to string) error {
	from = strings.TrimSpace(from)
	to = loader.CanonicalName(to)
	if from == "" || to == "" {
		return ipedserr.New(ipedserr.CodeInvalidArgument, "rename: empty table name")
	}
	if from == to {
		return nil
	}
	ok, err := s.TableExists(ctx, from)
	if err != nil {
		return err
	}
	if !ok {
		return ipedserr.Newf(ipedserr.CodeInvalidArgument, "rename: no table %s", from)
	}
	if !strings.EqualFold(from, to) {
		taken, err := s.TableExists(ctx, to)
		if err != nil {
			return err
		}
		if taken {
			return ipedserr.Newf(ipedserr.CodeInvalidArgument, "rename: table %s already exists", to)
		}
	}
	if err := s.RenameTable(ctx, from, to); err != nil {
		return err
	}
	log.Printf("maintenance: renamed %s -> %s", from, to)
	return nil
}
