// Package icns implements the Apple Icon Image (ICNS) parser (spec.md
// §4.5, "Media formats"): a "icns" magic, a big-endian total-length
// field, and a flat sequence of (4-byte type, 4-byte length-including-
// header) icon elements filling that length.
//
// Grounded on original_source/bangmedia.py's unpackAppleIcon: the same
// element walk, with its length field covering the element's own type
// and length bytes (hence the "-8" when advancing past an element body).
package icns

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

const formatName = "icns"

var signature = []byte("icns")

// Parser implements carver.Parser for ICNS.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"icns"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Apple Icon Image" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 8 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "icns: region too small"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	totalLength, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if offset+int64(totalLength) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "icns: declared length %d exceeds file", totalLength))
	}

	for c.Pos()-offset < int64(totalLength) {
		if _, err := c.Bytes(4); err != nil { // element type
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "icns: missing element type"))
		}
		elemLen, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		if elemLen < 8 {
			return carver.FromError(errtax.BadFieldf(c.Pos()-4, "icns: element length %d smaller than its own header", elemLen))
		}
		if c.Pos()-8+int64(elemLen) > filesize {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "icns: element data outside file"))
		}
		if err := c.Advance(int64(elemLen) - 8); err != nil {
			return carver.FromError(err)
		}
	}

	length := int64(totalLength)
	labels := label.NewSet(formatName, label.Apple, label.Graphics, label.Resource)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("icns")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
