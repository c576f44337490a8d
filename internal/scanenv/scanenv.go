// Package scanenv carries the small environment-hints record an
// orchestrator supplies alongside a candidate placement (spec.md §6.1):
// the temporary-directory root, path-mapping helpers, and the parent
// region's label set. It is threaded explicitly through Parse calls rather
// than held in package-level state, the way quay-claircore threads
// context.Context and *claircore.Layer explicitly instead of using globals.
package scanenv

import (
	"path/filepath"

	"github.com/carvex/carvex/internal/label"
)

// Environment is the read-only context a parser needs beyond the bytes
// themselves.
type Environment struct {
	// TemporaryDirectory is the caller-supplied scratch root; staging
	// files are created under it (internal/stage).
	TemporaryDirectory string
	// OutputDirectory is where carved/extracted artifacts are written.
	OutputDirectory string
	// ParentLabels is the label set of the enclosing region, if any.
	ParentLabels label.Set
	// TransferList carries the sibling ".transfer.list" bytes for an
	// Android sparse-data candidate (spec.md §4.5, "Android sparse-data").
	// The Carver Contract's region/offset/filesize triple describes only
	// the ".new.dat" blob being parsed; a transfer-list command stream is
	// a second file the orchestrator discovers by the sibling-naming
	// convention and threads through here, the same way it threads every
	// other piece of context this record carries. Nil for every format
	// that doesn't need a companion file.
	TransferList []byte
}

// UnpackPath maps a path relative to OutputDirectory to an absolute one.
func (e Environment) UnpackPath(rel string) string {
	return filepath.Join(e.OutputDirectory, filepath.FromSlash(rel))
}

// RelUnpackPath maps an absolute path back to one relative to
// OutputDirectory; it returns abs unchanged if it cannot be made relative.
func (e Environment) RelUnpackPath(abs string) string {
	r, err := filepath.Rel(e.OutputDirectory, abs)
	if err != nil {
		return abs
	}
	return r
}
