package normalize

import (
	"bytes"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode returns raw as UTF-8 text.
//
// A leading UTF-8 BOM is dropped. Valid UTF-8 is returned unchanged.
// Anything else is read as Windows-1252, the encoding older portal releases
// use, with control characters other than tab, CR and LF removed; lossy is
// true in that case. Decode never fails.
func Decode(raw []byte) (text []byte, lossy bool) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw, false
	}

	t := transform.Chain(
		charmap.Windows1252.NewDecoder(),
		runes.Remove(runes.Predicate(isStrayControl)),
	)
	out, _, err := transform.Bytes(t, raw)
	if err != nil {
		// Windows-1252 maps every byte, so this only happens on internal
		// transformer errors. Fall back to replacing invalid sequences.
		return bytes.ToValidUTF8(raw, []byte("\uFFFD")), true
	}
	return out, true
}

func isStrayControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}
