// Package normalize turns a raw tabular payload into a typed table.Table.
//
// Typing is conservative: a column only becomes integer or float when every
// sampled value parses cleanly, and falls back to text if any later value does
// not. Nothing is coerced to NULL that was not empty in the source.
//
// The package also owns the YEAR key: DeriveYear reads the year from a table
// name and EnsureYearColumn places it in the table.
package normalize

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"ipeds/internal/ipedserr"
	"ipeds/internal/rowhash"
	"ipeds/internal/table"
)

// DefaultSampleRows is used when Options.SampleRows is not positive.
const DefaultSampleRows = 1000

// maxIdentLen keeps column names within every supported backend's limit.
const maxIdentLen = 63

// Options controls Normalize.
type Options struct {
	SampleRows int
	// KeepDuplicates disables exact-duplicate row removal.
	KeepDuplicates bool
	// NoYear skips YEAR derivation and insertion (dictionary tables).
	NoYear bool
	// Comma defaults to ','.
	Comma rune
}

// Result is a normalized table plus what normalization had to do to get it.
type Result struct {
	Table *table.Table
	// Year is the name-derived year; YearOK is false when no rule matched.
	Year   int
	YearOK bool
	// Lossy is true when the payload was not valid UTF-8 and was decoded as
	// Windows-1252.
	Lossy bool
	// Skipped counts malformed or blank rows that were dropped.
	Skipped int
	// Duplicates counts exact duplicate rows removed.
	Duplicates int
	// Renamed maps final column names to the header they came from, for
	// headers that had to be changed.
	Renamed map[string]string
}

// Normalize parses raw as delimited text with a header row and returns the
// typed table named tableName (lowercased).
//
// Row shape rules:
//   - short rows are padded with NULL
//   - long rows whose extra fields are all empty are trimmed
//   - other long rows, blank rows and unparseable records are skipped and
//     counted in Result.Skipped
//
// Errors:
//   - CodeDecode when the payload has no header row.
func Normalize(raw []byte, tableName string, opts Options) (Result, error) {
	if opts.Comma == 0 {
		opts.Comma = ','
	}
	name := strings.ToLower(strings.TrimSpace(tableName))
	res := Result{}

	text, lossy := Decode(raw)
	res.Lossy = lossy

	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = opts.Comma
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return res, ipedserr.Newf(ipedserr.CodeDecode, "%s: empty payload", name)
		}
		return res, ipedserr.Wrapf(err, ipedserr.CodeDecode, "%s: read header", name)
	}
	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				res.Skipped++
				continue
			}
			return res, ipedserr.Wrapf(err, ipedserr.CodeDecode, "%s: read row", name)
		}
		records = append(records, rec)
	}

	out, err := FromRecords(name, header, records, opts)
	out.Lossy = lossy
	out.Skipped += res.Skipped
	return out, err
}

// FromRecords builds the normalized table from an already split header and
// records, applying the same row shaping, typing, dedupe and YEAR rules as
// Normalize. records may be reused by the caller afterwards.
func FromRecords(tableName string, header []string, records [][]string, opts Options) (Result, error) {
	if opts.SampleRows <= 0 {
		opts.SampleRows = DefaultSampleRows
	}
	name := strings.ToLower(strings.TrimSpace(tableName))
	res := Result{}

	cols, renamed := cleanHeader(header)
	if len(cols) == 0 {
		return res, ipedserr.Newf(ipedserr.CodeDecode, "%s: empty header", name)
	}
	res.Renamed = renamed

	width := len(cols)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row, ok := fitRow(rec, width)
		if !ok {
			res.Skipped++
			continue
		}
		rows = append(rows, row)
	}

	t := typeColumns(cols, rows, opts.SampleRows)
	t.Name = name

	if !opts.KeepDuplicates {
		res.Duplicates = rowhash.Dedupe(t)
	}
	if !opts.NoYear {
		res.Year, res.YearOK = DeriveYear(name)
		EnsureYearColumn(t, res.Year, res.YearOK)
	}
	res.Table = t
	return res, nil
}

// fitRow shapes rec to width cells. Copies, because csv.Reader may reuse rec.
func fitRow(rec []string, width int) ([]string, bool) {
	blank := true
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			blank = false
			break
		}
	}
	if blank {
		return nil, false
	}
	if len(rec) > width {
		for _, v := range rec[width:] {
			if strings.TrimSpace(v) != "" {
				return nil, false
			}
		}
		rec = rec[:width]
	}
	out := make([]string, width)
	copy(out, rec)
	return out, true
}

// cleanHeader trims header names, replaces characters that are not letters,
// digits or underscores, names empty headers column_<n>, and suffixes
// case-insensitive repeats with _2, _3, ... Case is preserved.
func cleanHeader(header []string) ([]string, map[string]string) {
	out := make([]string, len(header))
	renamed := make(map[string]string)
	used := make(map[string]bool)
	for i, h := range header {
		orig := strings.TrimSpace(h)
		base := identifier(orig)
		if base == "" {
			base = fmt.Sprintf("column_%d", i+1)
		}
		n := base
		for k := 2; used[strings.ToLower(n)]; k++ {
			n = truncate(fmt.Sprintf("%s_%d", base, k))
		}
		used[strings.ToLower(n)] = true
		out[i] = n
		if n != orig {
			renamed[n] = orig
		}
	}
	return out, renamed
}

func identifier(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case r == ' ' || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':' || r == ';':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return truncate(strings.Trim(b.String(), "_"))
}

func truncate(s string) string {
	if len(s) <= maxIdentLen {
		return s
	}
	cut := maxIdentLen
	for cut > 0 && !utf8.ValidString(s[:cut]) {
		cut--
	}
	return s[:cut]
}
