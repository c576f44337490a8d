// Package swf implements the SWF (Flash) parser (spec.md §4.5, "Media
// formats"): an uncompressed variant walked tag-by-tag to an exact
// length, and zlib- or LZMA-compressed variants ("CWS"/"ZWS" magic)
// whose body is handed to a decompression adapter.
//
// Grounded on original_source/bangmedia.py's unpackSWF: the RECT-header
// skip, the tag-code/tag-length bit layout (10 bits type, 6 bits length,
// extended 32-bit length on the 0x3f sentinel), the version-number floor
// for each compressed variant, and the "ShowFrame tags carry no body"
// sanity check.
package swf

import (
	"context"
	"math"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xfmt"
)

const formatName = "swf"

// Parser implements carver.Parser for SWF.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"swf"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("FWS"), []byte("CWS"), []byte("ZWS")} }
func (Parser) PrettyName() string   { return "Shockwave Flash" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 8 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "swf: fewer than 8 bytes"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	magic, err := c.Bytes(3)
	if err != nil {
		return carver.FromError(err)
	}
	var kind string
	switch string(magic) {
	case "FWS":
		kind = "uncompressed"
	case "CWS":
		kind = "zlib"
	case "ZWS":
		kind = "lzma"
	default:
		return carver.FromError(errtax.BadMagicf(offset, "swf: no valid SWF header"))
	}

	version, err := c.U8()
	if err != nil {
		return carver.FromError(err)
	}
	if kind == "zlib" && version < 6 {
		return carver.FromError(errtax.BadFieldf(offset+3, "swf: version %d too low for zlib compression", version))
	}
	if kind == "lzma" && version < 13 {
		return carver.FromError(errtax.BadFieldf(offset+3, "swf: version %d too low for LZMA compression", version))
	}

	storedLength, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if storedLength == 0 {
		return carver.FromError(errtax.BadFieldf(offset+4, "swf: invalid declared file length"))
	}

	switch kind {
	case "uncompressed":
		return parseUncompressed(region, c, filesize, offset, int64(storedLength), env)
	case "zlib":
		return parseCompressed(region, c, filesize, offset, int64(storedLength), xfmt.Zlib, nil, "zlib compressed swf", env)
	default:
		return parseLZMA(region, c, filesize, offset, int64(storedLength), env)
	}
}

func parseUncompressed(region carver.Region, c *bcursor.Cursor, filesize, offset, storedLength int64, env scanenv.Environment) carver.Result {
	if storedLength > filesize-offset {
		return carver.FromError(errtax.NotEnoughDataf(offset, "swf: declared length %d exceeds file", storedLength))
	}

	rectByte, err := c.Peek(1)
	if err != nil {
		return carver.FromError(err)
	}
	nbits := int(rectByte[0] >> 3)
	bitsToRead := 5 + 4*nbits
	rectBytes := int(math.Ceil(float64(bitsToRead) / 8))
	if err := c.Advance(int64(rectBytes)); err != nil {
		return carver.FromError(err)
	}
	if err := c.Advance(4); err != nil { // frame rate (2) + frame size (2)
		return carver.FromError(err)
	}

	endOfSWF := false
	for {
		tagWord, err := c.U16LE()
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "swf: not enough bytes for tag"))
		}
		tagType := tagWord >> 6
		tagLength := int64(tagWord & 0x3f)
		if tagLength == 0x3f {
			extLength, err := c.U32LE()
			if err != nil {
				return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "swf: not enough bytes for tag length"))
			}
			tagLength = int64(extLength)
		}
		if c.Pos()+tagLength > filesize {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "swf: not enough bytes for tag body"))
		}
		if tagType == 1 && tagLength != 0 {
			return carver.FromError(errtax.BadFieldf(c.Pos(), "swf: wrong length for ShowFrame tag"))
		}
		if err := c.Advance(tagLength); err != nil {
			return carver.FromError(err)
		}
		if tagType == 0 {
			endOfSWF = true
			break
		}
		if c.Pos() == filesize {
			break
		}
	}
	if !endOfSWF {
		return carver.FromError(errtax.BadStructuref(offset, "swf: no end tag found"))
	}

	length := c.Pos() - offset
	if length != storedLength {
		return carver.FromError(errtax.BadFieldf(offset, "swf: stored length %d does not match unpacked length %d", storedLength, length))
	}

	labels := label.NewSet(formatName, "video")
	return finish(region, filesize, offset, length, labels, env)
}

func parseCompressed(region carver.Region, c *bcursor.Cursor, filesize, offset, storedLength int64, codec xfmt.Codec, params *xfmt.RawParams, variantLabel string, env scanenv.Environment) carver.Result {
	raw, err := c.Bytes(int(c.Remaining()))
	if err != nil {
		return carver.FromError(err)
	}
	st, oerr := xfmt.Open(codec, params)
	if oerr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadField, offset, oerr, "swf: opening decompression adapter"))
	}
	decoded, derr := st.Feed(raw)
	if derr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadStructure, offset, derr, "swf: decompression failure"))
	}
	if int64(len(decoded))+8 != storedLength {
		return carver.FromError(errtax.BadFieldf(offset, "swf: decompressed length does not match declared length"))
	}

	// internal/xfmt's bufferedStream doesn't report trailing unconsumed
	// bytes (see parser/compress/gzip), so a compressed SWF is carved as
	// the full remainder of the region rather than precisely bounded.
	length := filesize - offset
	labels := label.NewSet(formatName, variantLabel, "video")
	return finish(region, filesize, offset, length, labels, env)
}

func parseLZMA(region carver.Region, c *bcursor.Cursor, filesize, offset, storedLength int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 17 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "swf: not enough data for LZMA header"))
	}
	if _, err := c.U32LE(); err != nil { // compressed length, unused by the decoder
		return carver.FromError(err)
	}
	propsByte, err := c.U8()
	if err != nil {
		return carver.FromError(err)
	}
	lzmaPB := int(propsByte) / (9 * 5)
	rem := int(propsByte) - lzmaPB*9*5
	lzmaLP := rem / 9
	lzmaLC := rem - lzmaLP*9

	dictSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}

	return parseCompressed(region, c, filesize, offset, storedLength, xfmt.LZMARaw, &xfmt.RawParams{
		DictSize: dictSize, LC: lzmaLC, LP: lzmaLP, PB: lzmaPB,
	}, "lzma compressed swf", env)
}

func finish(region carver.Region, filesize, offset, length int64, labels label.Set, env scanenv.Environment) carver.Result {
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("swf")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
