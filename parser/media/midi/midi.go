// Package midi implements the Standard MIDI File parser (spec.md §4.5,
// "Media formats"): an "MThd" header chunk (always 6 bytes of payload:
// format, track count, division) followed by zero or more "MTrk" track
// chunks.
//
// Grounded on original_source/bangmedia.py's unpackMidi: same "MThd
// chunk length must be exactly 6" and "format must be 0, 1, or 2"
// checks, and the same "stop, don't fail, at the first thing that isn't
// a well-formed MTrk chunk" trailing-chunk behavior.
package midi

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

const formatName = "midi"

var signature = []byte("MThd")

// Parser implements carver.Parser for Standard MIDI files.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"mid", "midi"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Standard MIDI file" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 14 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "midi: not enough data for header chunk"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	chunkSize, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if c.Pos()+int64(chunkSize) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "midi: not enough data for header chunk"))
	}
	if chunkSize != 6 {
		return carver.FromError(errtax.UnsupportedFeaturef(offset+8, "midi: unsupported header chunk length %d", chunkSize))
	}
	midiFormat, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	if midiFormat > 2 {
		return carver.FromError(errtax.BadFieldf(offset+12, "midi: unsupported format %d", midiFormat))
	}
	if err := c.Advance(4); err != nil { // track count, division
		return carver.FromError(err)
	}

	for {
		mark, err := c.Bytes(4)
		if err != nil {
			break
		}
		if string(mark) != "MTrk" {
			c.Seek(c.Pos() - 4)
			break
		}
		trackSize, err := c.U32BE()
		if err != nil {
			c.Seek(c.Pos() - 8)
			break
		}
		if c.Pos()+int64(trackSize) > filesize {
			c.Seek(c.Pos() - 8)
			break
		}
		if err := c.Advance(int64(trackSize)); err != nil {
			c.Seek(c.Pos() - 8 - int64(trackSize))
			break
		}
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Audio)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("midi")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
