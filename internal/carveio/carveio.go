// Package carveio implements the one piece of carving machinery every
// format parser needs: copying a byte-exact range out of the source
// region into a new artifact file (spec.md Invariant 4, "Producing a
// carved artifact copies bytes byte-exactly from the source region; no
// transcoding during carving"), and cleaning it back up if the parser
// later decides to fail (Invariant 2).
package carveio

import (
	"io"
	"os"
	"path/filepath"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/errtax"
)

// CopyRange copies exactly n bytes from region starting at offset into a
// new file at destPath, creating parent directories as needed.
func CopyRange(region carver.Region, offset, n int64, destPath string) *errtax.Error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errtax.IOf(offset, err, "creating output directory")
	}
	f, err := os.Create(destPath)
	if err != nil {
		return errtax.IOf(offset, err, "creating artifact file")
	}
	defer f.Close()

	sr := io.NewSectionReader(region, offset, n)
	if _, err := io.Copy(f, sr); err != nil {
		os.Remove(destPath)
		return errtax.IOf(offset, err, "copying carved bytes")
	}
	return nil
}

// WriteFile writes data verbatim to destPath, creating parent directories
// as needed. Used where a parser's output is computed bytes (a
// decompressed or reconstructed body) rather than a byte-exact copy of the
// source region.
func WriteFile(destPath string, data []byte) *errtax.Error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errtax.IOf(0, err, "creating output directory")
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return errtax.IOf(0, err, "writing artifact file")
	}
	return nil
}

// RemoveAll is used by parsers on a failure path to undo any output files
// they had already created (spec.md Invariant 2: "On failure no artifact
// is left on disk").
func RemoveAll(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
