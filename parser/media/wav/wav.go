// Package wav implements the WAV parser (spec.md §4.5, "Media
// formats"): a RIFF container with form type "WAVE", required "fmt " and
// "data" chunks, and a cross-check of the fmt chunk's declared byte rate
// against sample rate × block align for the canonical 16-byte PCM layout.
//
// Grounded on original_source/bangmedia.py's unpackWAV: same required-
// chunk checks and the same byte-rate sanity equation, built on top of
// the shared internal/riff walker the way unpackWAV calls unpackRIFF.
package wav

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/riff"
	"github.com/carvex/carvex/internal/scanenv"
)

const formatName = "wav"

var validChunks = map[string]bool{
	"LGWV": true, "bext": true, "cue ": true, "data": true, "fact": true,
	"fmt ": true, "inst": true, "labl": true, "list": true, "ltxt": true,
	"note": true, "plst": true, "smpl": true, "CDif": true, "SAUR": true,
}

// Parser implements carver.Parser for WAV.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"wav"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("RIFF")} }
func (Parser) PrettyName() string   { return "Waveform Audio File Format" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	c := bcursor.New(region, offset, filesize-offset)
	chunks, length, err := riff.Walk(c, offset, filesize, "WAVE", validChunks, false)
	if err != nil {
		return carver.FromError(err)
	}
	if _, ok := riff.Find(chunks, "data"); !ok {
		return carver.FromError(errtax.BadStructuref(offset, "wav: no data chunk found"))
	}
	fmtChunk, ok := riff.Find(chunks, "fmt ")
	if !ok {
		return carver.FromError(errtax.BadStructuref(offset, "wav: no fmt chunk found"))
	}
	if riff.Count(chunks, "fmt ") != 1 {
		return carver.FromError(errtax.BadStructuref(offset, "wav: multiple fmt chunks"))
	}
	if err := checkFmtChunk(region, offset, fmtChunk); err != nil {
		return carver.FromError(err)
	}

	labels := label.NewSet(formatName, label.Audio)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("wav")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}

// checkFmtChunk reads the fmt chunk's body (just past its FourCC) and
// applies the sanity checks original_source's unpackWAV applies: a known
// chunk size, and (for the canonical 16-byte layout) byte rate = sample
// rate * block align.
func checkFmtChunk(region carver.Region, offset int64, fmtChunk riff.Chunk) *errtax.Error {
	abs := offset + fmtChunk.Offset + 4
	c := bcursor.New(region, abs, 26)

	fmtSize, err := c.U32LE()
	if err != nil {
		return err
	}
	if fmtSize != 16 && fmtSize != 18 && fmtSize != 40 {
		return errtax.BadFieldf(abs, "wav: invalid fmt chunk size %d", fmtSize)
	}
	if err := c.Advance(2); err != nil { // format code
		return err
	}
	if err := c.Advance(2); err != nil { // channel count
		return err
	}
	sampleRate, err := c.U32LE()
	if err != nil {
		return err
	}
	byteRate, err := c.U32LE()
	if err != nil {
		return err
	}
	blockAlign, err := c.U16LE()
	if err != nil {
		return err
	}
	if fmtSize == 16 && byteRate != sampleRate*uint32(blockAlign) {
		return errtax.BadFieldf(abs, "wav: byte rate %d does not match sample rate %d * block align %d", byteRate, sampleRate, blockAlign)
	}
	return nil
}
