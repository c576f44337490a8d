// Package aiff implements the AIFF/AIFF-C parser (spec.md §4.5, "Media
// formats"): a big-endian "FORM" container carrying a form type of AIFF
// or AIFC, a flat chunk list, and mandatory COMM/SSND chunks.
//
// Grounded on original_source/bangmedia.py's unpackAIFF: same field
// order, same even-length chunk padding, and the same "COMM and SSND
// chunks are mandatory" closing check.
package aiff

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

const formatName = "aiff"

// Parser implements carver.Parser for AIFF/AIFF-C.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"aiff", "aif"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("FORM")} }
func (Parser) PrettyName() string   { return "Audio Interchange File Format" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 12 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "aiff: region too small"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.MagicString("FORM"); err != nil {
		return carver.FromError(err)
	}
	chunkDataSize, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if offset+int64(chunkDataSize)+8 > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "aiff: chunk size %d exceeds file", chunkDataSize))
	}
	form, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	var variant string
	switch string(form) {
	case "AIFF":
		variant = "aiff"
	case "AIFC":
		variant = "aiff-c"
	default:
		return carver.FromError(errtax.BadMagicf(offset+8, "aiff: unrecognized form type %q", form))
	}

	end := offset + 8 + int64(chunkDataSize)
	seenCOMM, seenSSND := false, false
	for c.Pos() < end {
		id, err := c.Bytes(4)
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "aiff: missing chunk id"))
		}
		switch string(id) {
		case "COMM":
			seenCOMM = true
		case "SSND":
			seenSSND = true
		}
		size, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		padded := int64(size)
		if padded%2 != 0 {
			padded++
		}
		if c.Pos()+padded > filesize {
			return carver.FromError(errtax.BadFieldf(c.Pos(), "aiff: chunk %q size %d outside file", id, size))
		}
		if err := c.Advance(padded); err != nil {
			return carver.FromError(err)
		}
	}
	if !seenCOMM {
		return carver.FromError(errtax.BadStructuref(offset, "aiff: mandatory COMM chunk not found"))
	}
	if !seenSSND {
		return carver.FromError(errtax.BadStructuref(offset, "aiff: mandatory SSND chunk not found"))
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Audio, variant)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("aiff")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked, variant)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
