// Package bmp implements the BMP parser (spec.md §4.5, "Media formats").
// It validates the 14-byte bitmap file header and cross-checks it against
// the DIB header size field, without decoding pixel data.
//
// Grounded on original_source/bangmedia.py's unpackBMP: the same header
// field order and the same "DIB header size must be one of a known set,
// data offset must fall after both headers" sanity checks, expressed via
// internal/bcursor the way parser/media/gif walks its own fixed header.
package bmp

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
	formatName = "bmp"
	minHeader  = 26 // 14-byte file header + smallest (12-byte) DIB header
	fileHdrLen = 14
)

var signature = []byte("BM")

// validDIBHeaderSizes lists the known DIB header variants: BITMAPCOREHEADER
// (12), OS22XBITMAPHEADER short/long (16, 64), BITMAPINFOHEADER (40),
// BITMAPV2/V3INFOHEADER (52, 56), BITMAPV4HEADER (108), BITMAPV5HEADER (124).
var validDIBHeaderSizes = map[uint32]bool{
	12: true, 16: true, 40: true, 52: true, 56: true, 64: true, 108: true, 124: true,
}

// Parser implements carver.Parser for BMP.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"bmp"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Windows Bitmap" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < minHeader {
		return carver.FromError(errtax.NotEnoughDataf(offset, "bmp: region too small for header"))
	}
	c := bcursor.New(region, offset, minHeader)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}

	bmpSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if offset+int64(bmpSize) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "bmp: declared size %d exceeds file", bmpSize))
	}
	if err := c.Advance(4); err != nil { // reserved
		return carver.FromError(err)
	}
	dataOffset, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if dataOffset > bmpSize {
		return carver.FromError(errtax.BadStructuref(offset, "bmp: pixel data offset %d outside declared size %d", dataOffset, bmpSize))
	}
	dibSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if !validDIBHeaderSizes[dibSize] {
		return carver.FromError(errtax.BadFieldf(offset+fileHdrLen, "bmp: unrecognized DIB header size %d", dibSize))
	}
	if offset+fileHdrLen+int64(dibSize) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "bmp: not enough data for DIB header"))
	}
	if int64(dataOffset) < fileHdrLen+int64(dibSize) {
		return carver.FromError(errtax.BadFieldf(offset, "bmp: pixel data offset %d overlaps headers", dataOffset))
	}

	length := int64(bmpSize)
	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("bmp")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
