// Package lzma implements the classic framed LZMA ("legacy .lzma")
// compression-stream parser (spec.md §4.5, "Compression streams"): read
// the 13-byte header, feed the stream to its decompression adapter, and
// carve from offset to the end of the file; where the LZMA stream ends is
// not determined.
//
// The format carries no fixed magic bytes — only a properties byte
// packing (lc, lp, pb) plus a little-endian dictionary size and
// uncompressed size — so detection here is the same "offset-dependent,
// no Signatures()" pattern already used by [[tarfmt]]/[[gimpbrush]],
// with the properties byte's legal range standing in for a magic check.
package lzma

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xfmt"
)

const (
	formatName = "lzma"
	headerSize = 13
)

// Parser implements carver.Parser for the classic framed LZMA stream.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"lzma"} }
func (Parser) Signatures() [][]byte { return nil } // no fixed magic; see package doc
func (Parser) PrettyName() string   { return "LZMA compressed data" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < headerSize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "lzma: not enough data for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	props, err := c.U8()
	if err != nil {
		return carver.FromError(err)
	}
	if !validProperties(props) {
		return carver.FromError(errtax.BadMagicf(offset, "lzma: properties byte out of range"))
	}
	if _, err := c.Bytes(headerSize - 1); err != nil { // dict size + uncompressed size
		return carver.FromError(err)
	}

	st, oerr := xfmt.Open(xfmt.LZMA1, nil)
	if oerr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadField, offset, oerr, "lzma: opening adapter"))
	}
	// The adapter expects the classic container framing starting at the
	// properties byte, so feed the whole stream rather than just the tail
	// already consumed off the cursor.
	whole := make([]byte, filesize-offset)
	if _, rerr := region.ReadAt(whole, offset); rerr != nil {
		return carver.FromError(errtax.IOf(offset, rerr, "lzma: reading stream"))
	}
	decoded, derr := st.Feed(whole)
	if derr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadStructure, offset, derr, "lzma: decoding"))
	}

	// Like gzip/xz, the buffered adapter never reports unconsumed trailing
	// bytes, so a stream that doesn't extend to filesize is carved as the
	// full remainder.
	length := filesize - offset
	labels := label.NewSet(formatName, label.Compressed)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	relName := pathname.SingleFileName("lzma")
	dest := env.UnpackPath(relName)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	decName := "unpacked.decoded"
	if werr := carveio.WriteFile(env.UnpackPath(decName), decoded); werr != nil {
		return carver.FromError(werr)
	}
	artifacts := []carver.Artifact{
		{RelPath: relName, Labels: labels.Union(label.NewSet(label.Unpacked))},
		{RelPath: decName, Labels: label.NewSet(label.Unpacked)},
	}
	return carver.Succeed(length, label.Set{}, artifacts, nil)
}

// validProperties reports whether a byte could be a legal LZMA
// properties byte: encodes (pb*5+lp)*9+lc with the SDK's conventional
// bounds lc<=8, lp<=4, pb<=4, giving a maximum packed value of 224.
func validProperties(b byte) bool {
	return b <= 224
}
