// Package gimpbrush implements the GIMP brush (GBR) parser (spec.md
// §4.5, "Media formats"): a big-endian header giving a header size
// (≥28), version, width/height/depth, a 4-byte magic, spacing, and a
// NUL-terminated brush name filling the rest of the declared header,
// followed by width*height*depth bytes of raster data.
//
// Grounded on original_source/bangmedia.py's unpackGimpBrush: same
// field order and the same "brush name becomes the carved file's
// basename" convention. The original's post-carve PIL decode sanity
// pass has no equivalent here; this parser's structural field checks
// (non-zero width/height/depth, declared data length within the file)
// serve the same role without an external image-decoding dependency.
package gimpbrush

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName  = "gimpbrush"
	minHeaderSz = 28
)

// Parser implements carver.Parser for GIMP brush files.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"gbr"} }
func (Parser) Signatures() [][]byte { return nil }
func (Parser) PrettyName() string   { return "GIMP brush" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < minHeaderSz {
		return carver.FromError(errtax.NotEnoughDataf(offset, "gimpbrush: not enough data for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	headerSize, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if headerSize < minHeaderSz {
		return carver.FromError(errtax.BadFieldf(offset, "gimpbrush: header size %d below minimum", headerSize))
	}
	if offset+int64(headerSize) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "gimpbrush: not enough data for header"))
	}
	if err := c.Advance(4); err != nil { // version
		return carver.FromError(err)
	}
	width, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if width == 0 {
		return carver.FromError(errtax.BadFieldf(offset+8, "gimpbrush: invalid width"))
	}
	height, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if height == 0 {
		return carver.FromError(errtax.BadFieldf(offset+12, "gimpbrush: invalid height"))
	}
	depth, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if depth == 0 {
		return carver.FromError(errtax.BadFieldf(offset+16, "gimpbrush: invalid colour depth"))
	}
	if err := c.Advance(8); err != nil { // magic, spacing
		return carver.FromError(err)
	}

	nameLength := int64(headerSize) - minHeaderSz
	nameBytes, err := c.Bytes(int(nameLength))
	if err != nil {
		return carver.FromError(err)
	}
	brushName := cStringBytes(nameBytes)

	remaining := int64(width) * int64(height) * int64(depth)
	if c.Pos()+remaining > filesize {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "gimpbrush: not enough data for brush"))
	}
	if err := c.Advance(remaining); err != nil {
		return carver.FromError(err)
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("gbr")
	if brushName != "" {
		if cleaned, ok := pathname.Contain(brushName + ".gbr"); ok {
			rel = cleaned
		}
	}
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}

func cStringBytes(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
