// Package dds implements the Microsoft DirectDraw Surface parser
// (spec.md §4.5, "Media formats"): a 128-byte little-endian header
// (fixed dwSize=124, capability flags, dimensions, an embedded 32-byte
// pixel-format sub-structure) followed by dwPitchOrLinearSize bytes of
// compressed texture data.
//
// Grounded on original_source/bangmedia.py's unpackDDS: same field
// order and the same scope restriction to compressed (DDSD_LINEARSIZE)
// files with a non-DX10 FourCC — uncompressed files and the DX10
// extended header were left unimplemented in the original and are
// surfaced here as UnsupportedFeaturef rather than guessed at.
package dds

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

const formatName = "dds"

var signature = []byte("DDS ")

// Parser implements carver.Parser for DirectDraw Surface files.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"dds"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "DirectDraw Surface" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 128 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "dds: not enough data for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	dwSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if dwSize != 124 {
		return carver.FromError(errtax.BadFieldf(offset+4, "dds: wrong value for dwSize"))
	}
	dwFlags, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if dwFlags&0x8 == 0x8 && dwFlags&0x80000 == 0x80000 {
		return carver.FromError(errtax.BadFieldf(offset+8, "dds: conflicting dwFlags"))
	}
	if dwFlags&0x80000 != 0x80000 {
		return carver.FromError(errtax.UnsupportedFeaturef(offset+8, "dds: uncompressed files are not supported"))
	}

	if err := c.Advance(8); err != nil { // dwHeight, dwWidth
		return carver.FromError(err)
	}
	dwPitchOrLinearSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if offset+int64(dwPitchOrLinearSize) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "dds: data outside of file"))
	}
	if err := c.Advance(8); err != nil { // dwDepth, dwMipMapCount
		return carver.FromError(err)
	}
	reserved, err := c.Bytes(44) // dwReserved1[11]
	if err != nil {
		return carver.FromError(err)
	}
	if !allZero(reserved) {
		return carver.FromError(errtax.BadFieldf(offset+32, "dds: non-zero dwReserved1"))
	}

	pixelDWSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if pixelDWSize != 32 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-4, "dds: wrong value for pixel format dwSize"))
	}
	if err := c.Advance(4); err != nil { // pixel format flags
		return carver.FromError(err)
	}
	fourCC, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	if string(fourCC) == "DX10" {
		return carver.FromError(errtax.UnsupportedFeaturef(c.Pos()-4, "dds: DX10 extended header is not supported"))
	}
	if err := c.Advance(20); err != nil { // RGBBitCount + 4 bitmasks
		return carver.FromError(err)
	}
	if err := c.Advance(20); err != nil { // dwCaps..dwCaps4, dwReserved2
		return carver.FromError(err)
	}

	length := c.Pos() - offset + int64(dwPitchOrLinearSize)
	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("dds")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
