// Package carver implements the Carver Contract & Result Record
// (spec.md §3, §4.1): the shared call shape every format parser exposes,
// and the signature-indexed registry that unifies them.
//
// Grounded on quay-claircore/indexer/packagescanner.go's PackageScanner
// interface (a uniform Scan(ctx, layer) (result, error) every package
// ecosystem implements) and indexer/ecosystem.go's flat registration
// pattern — design note §9 ("Dynamic dispatch across parsers") asks for
// exactly this: one interface, a flat match, no class hierarchy.
package carver

import (
	"context"
	"io"

	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
)

// Region is the opaque read-seek byte source every parser reads a
// candidate placement through (spec.md §3, "Region handle").
type Region interface {
	io.ReaderAt
}

// Artifact is a carved or extracted file plus its own label set
// (spec.md §3).
type Artifact struct {
	// RelPath is relative to the output directory (spec.md §6.4).
	RelPath string
	Labels  label.Set
}

// Result is the discriminated success/failure record every parser
// returns. Exactly one of Success or the Failure fields is meaningful;
// Success() reports which.
type Result struct {
	ok bool

	// Success fields.
	Length    int64
	Labels    label.Set
	Artifacts []Artifact
	Metadata  map[string]any

	// Failure fields.
	FailOffset int64
	Fatal      bool
	Reason     string
}

// Ok reports whether this Result represents a successful parse.
func (r Result) Ok() bool { return r.ok }

// Succeed builds a successful Result. length is the exact number of bytes
// consumed from the candidate offset (spec.md's "length honesty"
// property). labels describes the region itself; a parser that puts its
// tags on the artifacts it produces passes an empty set here.
func Succeed(length int64, labels label.Set, artifacts []Artifact, metadata map[string]any) Result {
	return Result{ok: true, Length: length, Labels: labels, Artifacts: artifacts, Metadata: metadata}
}

// Fail builds a failure Result. All parser-level failures in this core
// are non-fatal; fatal is reserved for I/O (spec.md §3).
func Fail(offset int64, fatal bool, reason string) Result {
	return Result{ok: false, FailOffset: offset, Fatal: fatal, Reason: reason}
}

// FromError converts an *errtax.Error into a failure Result, so parsers
// can simply `return carver.FromError(err)` at their single
// return-on-error point.
func FromError(err *errtax.Error) Result {
	return Fail(err.Offset, err.Kind.Fatal(), err.Error())
}

// Parser is the single interface every format module implements
// (spec.md §4.1 and design note "Dynamic dispatch across parsers").
type Parser interface {
	// Name is the parser's canonical format name, used as a label and in
	// diagnostics (e.g. "png", "zip", "squashfs").
	Name() string
	// Extensions lists canonical file extensions this format is
	// conventionally given (spec.md §6.4), most-preferred first.
	Extensions() []string
	// Signatures lists the fixed magic byte sequences this parser can be
	// dispatched on, used to build the registry's signature index.
	Signatures() [][]byte
	// PrettyName is a human-readable long name for diagnostics/reporting.
	PrettyName() string
	// Parse validates the candidate region starting at offset (absolute,
	// within region, which has the given filesize) and either carves or
	// labels it, per the Carver Contract (spec.md §4.1).
	Parse(ctx context.Context, region Region, filesize, offset int64, env scanenv.Environment) Result
}

// WholeFile reports whether a successful Result at the given offset
// covers the entire input — the case spec.md §3 calls out as enabling
// labeling instead of carving.
func WholeFile(offset, length, filesize int64) bool {
	return offset == 0 && length == filesize
}
