// Package xg3d implements the 3D Studio Max XG exporter file verifier
// (spec.md §4.5, "Media formats"): a proprietary, whole-file-only
// format identified by an embedded "3D Studio Max XG Exporter" tool
// string and a recorded file size at a fixed offset.
//
// Grounded on original_source/bangmedia.py's unpackXG3D, including its
// explicit restriction to offset 0 and its "carving is not supported"
// bailout when the recorded size doesn't exactly match the file — this
// format's internal structure beyond the tool-string check was never
// reverse engineered by the original either.
package xg3d

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
)

const formatName = "xg3d"

var toolString = []byte("3D Studio Max XG Exporter")

// Parser implements carver.Parser for 3D Studio Max XG exporter files.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"xg3d"} }
func (Parser) Signatures() [][]byte { return nil }
func (Parser) PrettyName() string   { return "3D Studio Max XG exporter file" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if offset != 0 {
		return carver.FromError(errtax.UnsupportedFeaturef(offset, "xg3d: only offset 0 is supported"))
	}
	if filesize-offset < 70 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "xg3d: not enough data for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	c.Seek(offset + 29)
	recordedSize, err := c.U16LE()
	if err != nil {
		return carver.FromError(err)
	}
	if int64(recordedSize)-offset > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "xg3d: not enough data for recorded size"))
	}
	if int64(recordedSize)-offset < filesize {
		return carver.FromError(errtax.UnsupportedFeaturef(offset, "xg3d: carving a region smaller than the file is not supported"))
	}

	c.Seek(offset + 0x25)
	tool, err := c.Bytes(len(toolString))
	if err != nil {
		return carver.FromError(err)
	}
	if string(tool) != string(toolString) {
		return carver.FromError(errtax.BadMagicf(offset+0x25, "xg3d: missing 3D Studio Max XG exporter tool string"))
	}

	length := int64(recordedSize)
	labels := label.NewSet(formatName, "3D Studio Max", label.Resource)
	return carver.Succeed(length, labels, nil, nil)
}
