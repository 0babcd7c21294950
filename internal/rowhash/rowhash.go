// Package rowhash computes stable keys for table rows, used to detect exact
// duplicate rows during normalization and validation.
//
// Canonical form:
//   - cells are joined with the ASCII unit separator (0x1f)
//   - text is length-prefixed ("t<len>:<bytes>"), so a separator inside a
//     value cannot shift cell boundaries
//   - NULL is a single NUL byte, so NULL differs from the empty string
//   - each non-null cell is prefixed with a type tag (i, f, t) so the integer
//     7 and the text "7" hash differently
//   - floats use the shortest round-trip representation
//
// Keys are SHA-256 digests; collisions are treated as impossible.
package rowhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"ipeds/internal/table"
)

const sep = '\x1f'

// Key is the digest of one row.
type Key [sha256.Size]byte

// String returns the lowercase hex form.
func (k Key) String() string { return hex.EncodeToString(k[:]) }

// Of hashes row.
func Of(row []table.Value) Key {
	buf := make([]byte, 0, len(row)*12)
	return sha256.Sum256(appendRow(buf, row))
}

func appendRow(b []byte, row []table.Value) []byte {
	for i, v := range row {
		if i > 0 {
			b = append(b, sep)
		}
		switch v.Kind {
		case table.TypeInteger:
			b = append(b, 'i')
			b = strconv.AppendInt(b, v.I, 10)
		case table.TypeFloat:
			b = append(b, 'f')
			b = strconv.AppendFloat(b, v.F, 'g', -1, 64)
		case table.TypeText:
			b = append(b, 't')
			b = strconv.AppendInt(b, int64(len(v.S)), 10)
			b = append(b, ':')
			b = append(b, v.S...)
		default:
			b = append(b, 0)
		}
	}
	return b
}

// Set remembers row keys. The zero value is not usable; use NewSet.
type Set struct {
	seen map[Key]struct{}
}

// NewSet returns an empty set sized for about n rows.
func NewSet(n int) *Set {
	if n < 0 {
		n = 0
	}
	return &Set{seen: make(map[Key]struct{}, n)}
}

// Add records row and reports whether it was new.
func (s *Set) Add(row []table.Value) bool {
	k := Of(row)
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	return true
}

// Len returns the number of distinct rows added.
func (s *Set) Len() int { return len(s.seen) }

// Dedupe removes exact duplicate rows from t in place, keeping the first
// occurrence of each, and returns how many rows were removed.
func Dedupe(t *table.Table) int {
	set := NewSet(len(t.Rows))
	kept := t.Rows[:0]
	for _, r := range t.Rows {
		if set.Add(r) {
			kept = append(kept, r)
		}
	}
	removed := len(t.Rows) - len(kept)
	for i := len(kept); i < len(t.Rows); i++ {
		t.Rows[i] = nil
	}
	t.Rows = kept
	return removed
}
