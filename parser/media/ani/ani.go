// Package ani implements the Windows Animated Cursor (ANI) parser
// (spec.md §4.5, "Media formats"): a RIFF container with form type
// "ACON" whose chunks are drawn from the ICON/anih/rate/seq set.
//
// Grounded on original_source/bangmedia.py's unpackANI, including its
// "some ANI files in the wild record the declared length as the whole
// container size rather than the trailing-bytes count" broken-length
// detection heuristic (checked by comparing the raw length field against
// the file size before the normal RIFF walk runs).
package ani

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

const formatName = "ani"

var validChunks = map[string]bool{"ICON": true, "anih": true, "rate": true, "seq ": true}

// Parser implements carver.Parser for ANI.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"ani"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("RIFF")} }
func (Parser) PrettyName() string   { return "Windows Animated Cursor" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	peek := bcursor.New(region, offset+4, 4)
	rawLength, err := peek.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	brokenLength := int64(rawLength) == filesize

	c := bcursor.New(region, offset, filesize-offset)
	_, length, werr := riff.Walk(c, offset, filesize, "ACON", validChunks, brokenLength)
	if werr != nil {
		return carver.FromError(werr)
	}

	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("ani")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
