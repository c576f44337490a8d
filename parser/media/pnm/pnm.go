// Package pnm implements the Netpbm raw-format parser (spec.md §4.5,
// "Media formats") for PBM ("P4"), PGM ("P5"), and PPM ("P6") images:
// a whitespace-delimited ASCII header (width, height, and for PGM/PPM
// a maximum color value) followed by a single whitespace byte and raw
// binary raster data.
//
// Grounded on original_source/bangmedia.py's unpackPNM: the same
// token-by-token whitespace/digit scanning (ASCII-only "raw" variants
// P4/P5/P6; the ASCII-encoded P1/P2/P3 variants were never implemented
// in the original and are out of scope here too) and the same raster
// byte-count formula per type and maximum color value.
package pnm

import (
	"context"
	"strconv"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
)

const formatName = "pnm"

// Parser implements carver.Parser for raw Netpbm PBM/PGM/PPM images.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"pbm", "pgm", "ppm"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("P4"), []byte("P5"), []byte("P6")} }
func (Parser) PrettyName() string   { return "Netpbm raw image" }

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// skipWhitespace requires at least one whitespace byte, then rewinds
// onto the first non-whitespace byte.
func skipWhitespace(c *bcursor.Cursor) *errtax.Error {
	seen := false
	for {
		b, err := c.U8()
		if err != nil {
			return errtax.NotEnoughDataf(c.Pos(), "pnm: not enough data for header whitespace")
		}
		if isSpace(b) {
			seen = true
			continue
		}
		if seen {
			c.Seek(c.Pos() - 1)
			return nil
		}
		return errtax.BadStructuref(c.Pos()-1, "pnm: no whitespace in header")
	}
}

// readDigits requires at least one ASCII digit, then rewinds onto the
// first non-digit byte and returns the accumulated integer.
func readDigits(c *bcursor.Cursor) (int64, *errtax.Error) {
	var digits []byte
	for {
		b, err := c.U8()
		if err != nil {
			return 0, errtax.NotEnoughDataf(c.Pos(), "pnm: not enough data for integer field")
		}
		if isDigit(b) {
			digits = append(digits, b)
			continue
		}
		if len(digits) > 0 {
			c.Seek(c.Pos() - 1)
			v, perr := strconv.ParseInt(string(digits), 10, 64)
			if perr != nil {
				return 0, errtax.BadFieldf(c.Pos(), "pnm: integer field out of range")
			}
			return v, nil
		}
		return 0, errtax.BadStructuref(c.Pos()-1, "pnm: no integer in header")
	}
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 2 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "pnm: not enough data for magic"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	magic, err := c.Bytes(2)
	if err != nil {
		return carver.FromError(err)
	}
	var pnmType string
	switch string(magic) {
	case "P6":
		pnmType = "ppm"
	case "P5":
		pnmType = "pgm"
	case "P4":
		pnmType = "pbm"
	default:
		return carver.FromError(errtax.BadMagicf(offset, "pnm: unrecognized magic"))
	}

	if err := skipWhitespace(c); err != nil {
		return carver.FromError(err)
	}
	width, err := readDigits(c)
	if err != nil {
		return carver.FromError(err)
	}
	if err := skipWhitespace(c); err != nil {
		return carver.FromError(err)
	}
	height, err := readDigits(c)
	if err != nil {
		return carver.FromError(err)
	}

	var maxValue int64 = 1
	if pnmType != "pbm" {
		if err := skipWhitespace(c); err != nil {
			return carver.FromError(err)
		}
		maxValue, err = readDigits(c)
		if err != nil {
			return carver.FromError(err)
		}
	}

	// single whitespace byte separating the header from raster data
	if _, err := c.U8(); err != nil {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "pnm: not enough data for header whitespace"))
	}

	var lenDataBytes int64
	switch pnmType {
	case "pbm":
		rowLength := width / 8
		if width%8 != 0 {
			rowLength++
		}
		lenDataBytes = rowLength * height
	default:
		if maxValue < 256 {
			lenDataBytes = width * height
		} else {
			lenDataBytes = width * height * 2
		}
		if pnmType == "ppm" {
			lenDataBytes *= 3
		}
	}
	if c.Pos()+lenDataBytes > filesize {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "pnm: not enough data for raster"))
	}
	if err := c.Advance(lenDataBytes); err != nil {
		return carver.FromError(err)
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, pnmType, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName(pnmType)
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
