package bcursor

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
	"unicode/utf8"
)

// encodingChain is the fixed, process-wide fallback sequence spec.md §9
// ("Global encoding lists") asks to be expressed as a single constant
// rather than mutable process state: try strict UTF-8 first, then a fixed
// ordered list of legacy encodings, and finally fall back to the raw bytes
// reinterpreted as Latin-1 (which never fails to decode).
var encodingChain = []encoding.Encoding{
	unicode.UTF8,
	japanese.ShiftJIS,
	japanese.EUCJP,
	korean.EUCKR,
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// decodeChain tries each encoding in encodingChain in order, accepting the
// first one that decodes without error. UTF-8 is checked with the strict
// validator rather than unicode.UTF8's permissive decoder, since the
// latter would "succeed" on most legacy byte sequences too.
func decodeChain(b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	for _, enc := range encodingChain[1:] {
		if s, err := enc.NewDecoder().String(string(b)); err == nil {
			return s, nil
		}
	}
	// Raw fallback: Latin-1 never errors, every byte maps to a rune.
	s, err := charmap.ISO8859_1.NewDecoder().String(string(b))
	if err != nil {
		return string(b), nil
	}
	return s, nil
}
