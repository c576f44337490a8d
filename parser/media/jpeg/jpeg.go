// Package jpeg implements the JFIF/JPEG parser (spec.md §4.5, "Media
// formats"): SOI, misc tables/APPn, an optional DHP hierarchical-syntax
// segment, one or more frames each terminated by EOI, with entropy-coded
// scan data scanned byte-by-byte for the next non-stuffed 0xFF marker
// rather than decoded.
//
// Grounded on original_source/bangmedia.py's unpackJPEG: the same marker
// tables (tables/misc, APPn, restart, start-of-frame, extension) and the
// same scan loop that treats 0xFF followed by 0x00 as stuffed entropy data
// rather than a marker. Expressed via internal/bcursor rather than the
// original's direct file seeks.
package jpeg

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

const formatName = "jpeg"

var signature = []byte{0xFF, 0xD8}

const (
	markerSOI = 0xD8
	markerEOI = 0xD9
	markerSOS = 0xDA
	markerDNL = 0xDC
	markerDRI = 0xDD
	markerDHP = 0xDE
	markerEXP = 0xDF
)

// tablesMisc: DQT(DB), DHT(C4), DAC(CC), DRI(DD), COM(FE).
var tablesMisc = map[byte]bool{0xDB: true, 0xC4: true, 0xCC: true, 0xDD: true, 0xFE: true}

// startOfFrame markers: C0-C3, C5-C7, C9-CB, CD-CF (C8 is JPG extension, not SOF).
var startOfFrame = map[byte]bool{
	0xC0: true, 0xC1: true, 0xC2: true, 0xC3: true,
	0xC5: true, 0xC6: true, 0xC7: true,
	0xC9: true, 0xCA: true, 0xCB: true,
	0xCD: true, 0xCE: true, 0xCF: true,
}

func isAPPn(b byte) bool { return b >= 0xE0 && b <= 0xEF }
func isRST(b byte) bool  { return b >= 0xD0 && b <= 0xD7 }

// Parser implements carver.Parser for JPEG.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"jpg", "jpeg"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "JPEG image" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 4 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "jpeg: region too small"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}

	marker, err := nextMarkerByte(c)
	if err != nil {
		return carver.FromError(err)
	}
	// misc/tables/APPn preceding the (possible) hierarchical DHP segment.
	for tablesMisc[marker] || isAPPn(marker) {
		if err := skipSegment(c); err != nil {
			return carver.FromError(err)
		}
		marker, err = nextMarkerByte(c)
		if err != nil {
			return carver.FromError(err)
		}
	}

	hierarchical := false
	if marker == markerDHP {
		if err := skipSegment(c); err != nil {
			return carver.FromError(err)
		}
		hierarchical = true
		marker, err = nextMarkerByte(c)
		if err != nil {
			return carver.FromError(err)
		}
	}

	eofSeen := false
	for !eofSeen {
		if cerr := ctx.Err(); cerr != nil {
			return carver.Fail(c.Pos(), true, cerr.Error())
		}
		for tablesMisc[marker] || isAPPn(marker) {
			if err := skipSegment(c); err != nil {
				return carver.FromError(err)
			}
			marker, err = nextMarkerByte(c)
			if err != nil {
				return carver.FromError(err)
			}
		}
		if marker == markerEXP {
			if !hierarchical {
				return carver.FromError(errtax.BadStructuref(c.Pos(), "jpeg: EXP marker outside hierarchical syntax"))
			}
			if err := skipSegment(c); err != nil {
				return carver.FromError(err)
			}
			marker, err = nextMarkerByte(c)
			if err != nil {
				return carver.FromError(err)
			}
		}
		if !startOfFrame[marker] {
			return carver.FromError(errtax.BadStructuref(c.Pos(), "jpeg: expected start-of-frame marker, got 0x%02x", marker))
		}
		if err := skipSegment(c); err != nil {
			return carver.FromError(err)
		}

		for !eofSeen {
			marker, err = nextMarkerByte(c)
			if err != nil {
				return carver.FromError(err)
			}
			for tablesMisc[marker] || isAPPn(marker) {
				if err := skipSegment(c); err != nil {
					return carver.FromError(err)
				}
				marker, err = nextMarkerByte(c)
				if err != nil {
					return carver.FromError(err)
				}
			}
			isRestart := isRST(marker)
			if marker == markerDNL {
				if err := skipSegment(c); err != nil {
					return carver.FromError(err)
				}
			}
			if marker == markerSOS {
				if err := parseScanHeader(c); err != nil {
					return carver.FromError(err)
				}
			} else if !isRestart {
				if marker != markerEOI {
					return carver.FromError(errtax.BadStructuref(c.Pos(), "jpeg: invalid start-of-scan marker 0x%02x", marker))
				}
				eofSeen = true
				break
			}
			if eofSeen {
				break
			}
			done, serr := scanEntropyData(c)
			if serr != nil {
				return carver.FromError(serr)
			}
			if done {
				eofSeen = true
			}
		}
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("jpg")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}

// nextMarkerByte reads the 0xFF prefix followed by the marker byte,
// returning just the marker byte (section B.1.1.2: markers are always
// 0xFF followed by a non-zero, non-0xFF byte).
func nextMarkerByte(c *bcursor.Cursor) (byte, *errtax.Error) {
	ff, err := c.U8()
	if err != nil {
		return 0, errtax.NotEnoughDataf(c.Pos(), "jpeg: missing marker prefix")
	}
	if ff != 0xFF {
		return 0, errtax.BadStructuref(c.Pos()-1, "jpeg: expected 0xFF marker prefix, got 0x%02x", ff)
	}
	m, err := c.U8()
	if err != nil {
		return 0, errtax.NotEnoughDataf(c.Pos(), "jpeg: missing marker byte")
	}
	return m, nil
}

// skipSegment reads a big-endian 16-bit length (inclusive of itself) and
// advances past the remaining segment bytes.
func skipSegment(c *bcursor.Cursor) *errtax.Error {
	length, err := c.U16BE()
	if err != nil {
		return err
	}
	if length < 2 {
		return errtax.BadFieldf(c.Pos()-2, "jpeg: segment length %d too small", length)
	}
	return c.Advance(int64(length) - 2)
}

func parseScanHeader(c *bcursor.Cursor) *errtax.Error {
	length, err := c.U16BE()
	if err != nil {
		return err
	}
	n, err := c.U8()
	if err != nil {
		return err
	}
	if n < 1 || n > 4 {
		return errtax.BadFieldf(c.Pos()-1, "jpeg: invalid scan component count %d", n)
	}
	if uint16(length) != 6+2*uint16(n) {
		return errtax.BadFieldf(c.Pos(), "jpeg: scan header length %d inconsistent with %d components", length, n)
	}
	return c.Advance(int64(length) - 3)
}

// scanEntropyData advances the cursor past entropy-coded scan data up to
// the next marker that isn't a stuffed 0xFF 0x00 pair, leaving the cursor
// positioned right before that marker's 0xFF byte (or after EOI's two
// bytes, with done=true, if EOI is what ended the scan).
func scanEntropyData(c *bcursor.Cursor) (done bool, rerr *errtax.Error) {
	for {
		b, err := c.Peek(1)
		if err != nil {
			return false, errtax.NotEnoughDataf(c.Pos(), "jpeg: entropy-coded data runs past end of file")
		}
		if b[0] != 0xFF {
			if aerr := c.Advance(1); aerr != nil {
				return false, aerr
			}
			continue
		}
		two, err := c.Peek(2)
		if err != nil || len(two) < 2 {
			// lone trailing 0xFF with nothing after it; treat as data end.
			if aerr := c.Advance(1); aerr != nil {
				return false, aerr
			}
			continue
		}
		if two[1] == 0x00 {
			if aerr := c.Advance(2); aerr != nil { // stuffed byte, part of the entropy stream
				return false, aerr
			}
			continue
		}
		switch {
		case tablesMisc[two[1]], isAPPn(two[1]), isRST(two[1]), two[1] == markerSOS, two[1] == markerDNL:
			return false, nil
		case two[1] == markerEOI:
			if aerr := c.Advance(2); aerr != nil {
				return false, aerr
			}
			return true, nil
		default:
			// unrecognized byte following 0xFF inside scan data; treat the
			// lone 0xFF as data and keep scanning, matching the original
			// script's tolerant fall-through when no known marker matches.
			if aerr := c.Advance(1); aerr != nil {
				return false, aerr
			}
		}
	}
}
