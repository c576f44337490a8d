// Package sgi implements the SGI image (.rgb/.bw/.sgi) parser (spec.md
// §4.5, "Media formats"): a fixed 512-byte big-endian header followed
// by either a verbatim pixel array or a pair of RLE start/length
// tables.
//
// Grounded on original_source/bangmedia.py's unpackSGI: same header
// field order and validation (storage format, bytes-per-pixel,
// dimensions, colormap whitelist, the two runs of reserved zero
// bytes), and the same verbatim-vs-RLE length computation.
package sgi

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
	formatName = "sgi"
	headerLen  = 512
)

var signature = []byte{0x01, 0xDA}

var validDimensions = map[uint16]bool{1: true, 2: true, 3: true}
var validColormaps = map[uint32]bool{0: true, 1: true, 2: true, 3: true}

// Parser implements carver.Parser for SGI images.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"sgi", "rgb", "bw"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "SGI image" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < headerLen {
		return carver.FromError(errtax.NotEnoughDataf(offset, "sgi: not enough data for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	storage, err := c.U8()
	if err != nil {
		return carver.FromError(err)
	}
	if storage != 0 && storage != 1 {
		return carver.FromError(errtax.BadFieldf(offset+2, "sgi: unrecognized storage format %d", storage))
	}
	rle := storage == 1

	bpc, err := c.U8()
	if err != nil {
		return carver.FromError(err)
	}
	if bpc != 1 && bpc != 2 {
		return carver.FromError(errtax.BadFieldf(offset+3, "sgi: unrecognized bytes-per-pixel-channel %d", bpc))
	}

	dimensions, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	if !validDimensions[dimensions] {
		return carver.FromError(errtax.BadFieldf(offset+4, "sgi: unrecognized dimensions %d", dimensions))
	}

	xsize, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	ysize, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	zsize, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	if err := c.Advance(8); err != nil { // pinmin, pinmax
		return carver.FromError(err)
	}

	dummy, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	if !allZero(dummy) {
		return carver.FromError(errtax.BadFieldf(offset+18, "sgi: non-zero reserved bytes in header"))
	}

	name, err := c.Bytes(80)
	if err != nil {
		return carver.FromError(err)
	}
	imageName := cStringBytes(name)

	colormap, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if !validColormaps[colormap] {
		return carver.FromError(errtax.BadFieldf(offset+106, "sgi: unrecognized colormap %d", colormap))
	}

	c.Seek(offset + 108)
	tail, err := c.Bytes(404)
	if err != nil {
		return carver.FromError(err)
	}
	if !allZero(tail) {
		return carver.FromError(errtax.BadFieldf(offset+108, "sgi: non-zero reserved bytes in header tail"))
	}

	var length int64
	if !rle {
		length = headerLen + int64(xsize)*int64(ysize)*int64(zsize)*int64(bpc)
		if length > filesize-offset {
			return carver.FromError(errtax.NotEnoughDataf(offset, "sgi: not enough image data"))
		}
	} else {
		tableEntries := int(ysize) * int(zsize)
		c.Seek(offset + headerLen)
		startTab := make([]uint32, tableEntries)
		for i := 0; i < tableEntries; i++ {
			v, err := c.U32BE()
			if err != nil {
				return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "sgi: not enough bytes for RLE start table"))
			}
			startTab[i] = v
		}
		var maxOffset int64
		for i := 0; i < tableEntries; i++ {
			lengthEntry, err := c.U32BE()
			if err != nil {
				return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "sgi: not enough bytes for RLE length table"))
			}
			if offset+int64(startTab[i])+int64(lengthEntry) > filesize {
				return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "sgi: not enough bytes for RLE data"))
			}
			if end := int64(startTab[i]) + int64(lengthEntry); end > maxOffset {
				maxOffset = end
			}
		}
		length = maxOffset
	}

	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("sgi")
	if !rle && imageName != "" && imageName != "no name" {
		if cleaned, ok := pathname.Contain(imageName); ok {
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

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func cStringBytes(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
