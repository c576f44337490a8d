// Package pathname implements the deterministic artifact naming and safe
// path composition rules of spec.md §6.4: per-entry names when a format
// carries them, "unpacked.<ext>" for single-file carves, input-stem reuse
// where sensible, and path-traversal hardening for archive member names.
//
// Grounded on quay-claircore/layer.go's normalizeIn, which cleans and
// relativizes tar member paths before they are used as map keys.
package pathname

import (
	"path"
	"strings"
)

// Clean relativizes p against the archive root the way normalizeIn does:
// absolute paths are made relative, and the result is path.Clean'd from
// the root, so ".." components that would climb above the root are
// dropped ("../x" becomes "x"). Callers wanting the stricter "reject .."
// policy should use Contain instead.
func Clean(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// Contain relativizes p and rejects any result that still escapes the
// root via ".." components, returning ok=false in that case. Used by
// collaborators that declared a "reject traversal" policy (spec.md §6.4
// leaves the choice to the collaborator; carvex's own sub-extractors use
// the strict policy since they write directly to disk).
func Contain(p string) (cleaned string, ok bool) {
	c := path.Clean(strings.TrimLeft(p, "/"))
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", false
	}
	if c == "." {
		c = ""
	}
	return c, true
}

// SingleFileName returns the canonical "unpacked.<ext>" name for a
// single-file carve (spec.md §6.4(2)).
func SingleFileName(ext string) string {
	return "unpacked." + ext
}

// StemName implements rule (3): prefer the input filename's stem (e.g.
// "x.new.dat" -> "x") for single-file carves where one is available,
// falling back to "unpacked-from-<format>" when the stem is empty.
func StemName(inputName, format string) string {
	base := path.Base(inputName)
	for {
		ext := path.Ext(base)
		if ext == "" {
			break
		}
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" {
		return "unpacked-from-" + format
	}
	return base
}

// EncodedName implements rule (4) for text-encoded decoders.
func EncodedName(encoding string) string {
	return "unpacked." + encoding
}
