// Package webp implements the WebP parser (spec.md §4.5, "Media
// formats"): a RIFF container with form type "WEBP" whose chunks are
// drawn from the VP8/VP8L/VP8X/ANIM/ANMF/ALPH/ICCP/EXIF/XMP/FRGM set.
//
// Grounded on original_source/bangmedia.py's unpackWebP, a thin wrapper
// around its shared unpackRIFF helper with WebP's own valid-FourCC set;
// the same split is carried here as internal/riff plus this format's
// chunk table.
package webp

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/riff"
	"github.com/carvex/carvex/internal/scanenv"
)

const formatName = "webp"

var validChunks = map[string]bool{
	"ALPH": true, "ANIM": true, "ANMF": true, "EXIF": true, "FRGM": true,
	"ICCP": true, "VP8 ": true, "VP8L": true, "VP8X": true, "XMP ": true,
}

// Parser implements carver.Parser for WebP.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"webp"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("RIFF")} }
func (Parser) PrettyName() string   { return "WebP image" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	c := bcursor.New(region, offset, filesize-offset)
	_, length, err := riff.Walk(c, offset, filesize, "WEBP", validChunks, false)
	if err != nil {
		return carver.FromError(err)
	}

	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("webp")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
