// Package sunraster implements the Sun raster image parser (spec.md
// §4.5, "Media formats"): a fixed 32-byte, all-big-endian header
// (magic, width, height, depth, data length, type, colormap type,
// colormap length) followed by the colormap and then the raster data.
//
// Grounded on original_source/bangmedia.py's unpackSunRaster: same field
// order, same "only RT_STANDARD (type 1) is supported" restriction, and
// the same "a declared data length of 0 is not supported" bailout.
package sunraster

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
	formatName = "sunraster"
	headerLen  = 32
	rtStandard = 1
)

var signature = []byte{0x59, 0xA6, 0x6A, 0x95}

var validTypes = map[uint32]bool{0: true, 1: true, 2: true, 3: true, 4: true, 5: true, 0xFFFF: true}
var validMapTypes = map[uint32]bool{0: true, 1: true, 2: true}

// Parser implements carver.Parser for Sun raster images.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"rast", "ras"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Sun raster image" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < headerLen {
		return carver.FromError(errtax.NotEnoughDataf(offset, "sunraster: region too small"))
	}
	c := bcursor.New(region, offset, headerLen)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	if err := c.Advance(12); err != nil { // width, height, depth
		return carver.FromError(err)
	}
	length, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if length == 0 {
		return carver.FromError(errtax.UnsupportedFeaturef(offset+16, "sunraster: zero-length raster data not supported"))
	}
	rasType, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if !validTypes[rasType] {
		return carver.FromError(errtax.BadFieldf(offset+20, "sunraster: unrecognized type %d", rasType))
	}
	if rasType != rtStandard {
		return carver.FromError(errtax.UnsupportedFeaturef(offset+20, "sunraster: only the standard (type 1) layout is supported, got %d", rasType))
	}
	mapType, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if !validMapTypes[mapType] {
		return carver.FromError(errtax.BadFieldf(offset+24, "sunraster: unrecognized colormap type %d", mapType))
	}
	mapLength, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if headerLen+offset+int64(mapLength)+int64(length) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "sunraster: not enough data for raster file"))
	}

	fileLength := headerLen + int64(mapLength) + int64(length)
	labels := label.NewSet(formatName, "raster", label.Graphics)
	if carver.WholeFile(offset, fileLength, filesize) {
		return carver.Succeed(fileLength, labels, nil, nil)
	}
	rel := pathname.SingleFileName("rast")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, fileLength, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(fileLength, labels, artifacts, nil)
}
