// Package au implements the Sun/NeXT AU parser (spec.md §4.5, "Media
// formats"): a big-endian fixed header giving a data offset, data size,
// and a small whitelisted encoding enum.
//
// Grounded on original_source/bangmedia.py's unpackAU: the same
// "data offset must be a multiple of 8 and must follow the header",
// known-encoding whitelist, and "unknown-length (0xFFFFFFFF) files cannot
// be sized" bailout.
package au

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

const formatName = "au"

var signature = []byte(".snd")

var validEncodings = map[uint32]bool{
	1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true, 8: true,
	9: true, 10: true, 11: true, 12: true, 13: true, 18: true, 19: true,
	20: true, 21: true, 23: true, 24: true, 25: true, 26: true, 27: true,
}

// Parser implements carver.Parser for AU.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"au", "snd"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Sun/NeXT audio" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 24 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "au: region too small"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	dataOffset, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if dataOffset%8 != 0 {
		return carver.FromError(errtax.BadFieldf(offset+4, "au: data offset %d not a multiple of 8", dataOffset))
	}
	if offset+int64(dataOffset) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "au: data offset %d outside file", dataOffset))
	}

	dataSizeRaw, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if dataSizeRaw == 0xFFFFFFFF {
		return carver.FromError(errtax.UnsupportedFeaturef(offset, "au: unknown-length (0xFFFFFFFF) data size not supported"))
	}

	encoding, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if !validEncodings[encoding] {
		return carver.FromError(errtax.BadFieldf(offset+12, "au: unrecognized encoding %d", encoding))
	}
	if err := c.Advance(8); err != nil { // sample rate, channel count
		return carver.FromError(err)
	}
	if int64(dataOffset) < c.Pos()-offset {
		return carver.FromError(errtax.BadFieldf(offset, "au: data offset %d starts inside header", dataOffset))
	}
	if offset+int64(dataOffset)+int64(dataSizeRaw) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "au: data extends past end of file"))
	}

	length := int64(dataOffset) + int64(dataSizeRaw)
	labels := label.NewSet(formatName, label.Audio)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("au")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
