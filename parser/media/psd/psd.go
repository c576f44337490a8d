// Package psd implements the Adobe Photoshop PSD parser (spec.md
// §4.5, "Media formats"): a fixed 26-byte header (version, channel
// count, dimensions, bit depth, color mode), followed by three
// variable-length sections (color mode data, image resources, layer
// and mask information) and a final image-data section whose own
// layout depends on the declared compression method.
//
// Grounded on original_source/bangmedia.py's unpackPSD: same header
// field ranges, the same "only raw and RLE compression are supported"
// restriction (ZIP-based compression methods 2 and 3 are accepted as
// valid field values but rejected as UnsupportedFeaturef, matching the
// original's own scope), and the same per-scanline RLE byte-count
// table used to size the RLE image-data section without decoding it.
package psd

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

const formatName = "psd"

var signature = []byte("8BPS")

var validDepths = map[uint16]bool{1: true, 8: true, 16: true, 32: true}
var validColorModes = map[uint16]bool{0: true, 1: true, 2: true, 3: true, 4: true, 7: true, 8: true, 9: true}

// Parser implements carver.Parser for Adobe Photoshop PSD files.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"psd"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Adobe Photoshop document" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 30 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "psd: not enough data for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	version, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	if version != 1 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-2, "psd: wrong version number"))
	}
	reserved, err := c.Bytes(6)
	if err != nil {
		return carver.FromError(err)
	}
	if !allZero(reserved) {
		return carver.FromError(errtax.BadFieldf(c.Pos()-6, "psd: reserved bytes not 0"))
	}
	numberOfChannels, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	if numberOfChannels < 1 || numberOfChannels > 56 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-2, "psd: wrong number of channels"))
	}
	imageHeight, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if imageHeight < 1 || imageHeight > 30000 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-4, "psd: invalid image height"))
	}
	imageWidth, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if imageWidth < 1 || imageWidth > 30000 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-4, "psd: invalid image width"))
	}
	imageDepth, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	if !validDepths[imageDepth] {
		return carver.FromError(errtax.BadFieldf(c.Pos()-2, "psd: invalid image depth"))
	}
	colorMode, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	if !validColorModes[colorMode] {
		return carver.FromError(errtax.BadFieldf(c.Pos()-2, "psd: invalid color mode"))
	}

	colorModeLength, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if colorModeLength > 0 {
		if err := c.Advance(int64(colorModeLength)); err != nil {
			return carver.FromError(err)
		}
	}

	resourcesLength, err := c.U32BE()
	if err != nil {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "psd: not enough data for image resources section"))
	}
	if c.Pos()+int64(resourcesLength) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "psd: not enough data for image resources section"))
	}
	if resourcesLength > 0 {
		if err := c.Advance(int64(resourcesLength)); err != nil {
			return carver.FromError(err)
		}
	}

	layerSectionLength, err := c.U32BE()
	if err != nil {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "psd: not enough data for layer and mask information section"))
	}
	if c.Pos()+int64(layerSectionLength) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "psd: not enough data for layer and mask information section"))
	}
	if layerSectionLength > 0 {
		if err := c.Advance(int64(layerSectionLength)); err != nil {
			return carver.FromError(err)
		}
	}

	compressionMethod, err := c.U16BE()
	if err != nil {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "psd: not enough data for pixel data compression method"))
	}
	if compressionMethod > 3 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-2, "psd: invalid pixel data compression method"))
	}
	if compressionMethod != 0 && compressionMethod != 1 {
		return carver.FromError(errtax.UnsupportedFeaturef(c.Pos()-2, "psd: unsupported pixel data compression method"))
	}

	var totBytes int64
	switch compressionMethod {
	case 0:
		totBytes = int64(numberOfChannels) * int64(imageHeight) * int64(imageWidth)
		if c.Pos()+totBytes > filesize {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "psd: not enough data for raw mode"))
		}
	case 1:
		scanlines := int64(imageHeight) * int64(numberOfChannels)
		for i := int64(0); i < scanlines; i++ {
			byteCount, err := c.U16BE()
			if err != nil {
				return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "psd: not enough data for RLE byte count"))
			}
			totBytes += int64(byteCount)
		}
		if c.Pos()+totBytes > filesize {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "psd: not enough data for RLE encoded data"))
		}
	}
	if err := c.Advance(totBytes); err != nil {
		return carver.FromError(err)
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("psd")
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
