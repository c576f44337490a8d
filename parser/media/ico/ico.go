// Package ico implements the Windows icon/cursor (ICO) parser (spec.md
// §4.5, "Media formats"): a 6-byte ICONDIR header giving an image count,
// followed by that many 16-byte ICONDIRENTRY records pointing at either
// embedded PNG or embedded-BMP-DIB image data.
//
// Grounded on original_source/bangmedia.py's unpackICO: same header
// layout, same "offset cannot land inside the header" and "image cannot
// extend past the file" checks. The width and height bytes are skipped,
// not interpreted. The PIL-decode sanity pass the original performs after
// carving has no equivalent here; this parser relies on its own
// structural checks instead of invoking an external image decoder.
package ico

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

const (
	formatName   = "ico"
	dirEntryLen  = 16
	headerLen    = 6
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

var validDIBHeaderSizes = map[uint32]bool{
	12: true, 16: true, 40: true, 52: true, 56: true, 64: true, 108: true, 124: true,
}

// Parser implements carver.Parser for ICO/CUR.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"ico", "cur"} }
func (Parser) Signatures() [][]byte { return [][]byte{{0x00, 0x00, 0x01, 0x00}} }
func (Parser) PrettyName() string   { return "Windows icon" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < headerLen {
		return carver.FromError(errtax.NotEnoughDataf(offset, "ico: not enough data for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Advance(4); err != nil { // reserved + type
		return carver.FromError(err)
	}
	numImages, err := c.U16LE()
	if err != nil {
		return carver.FromError(err)
	}
	if numImages == 0 {
		return carver.FromError(errtax.BadFieldf(offset+4, "ico: no images defined"))
	}
	if offset+headerLen+int64(numImages)*dirEntryLen > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "ico: not enough data for %d directory entries", numImages))
	}

	var maxEnd int64 = -1
	for i := uint16(0); i < numImages; i++ {
		if err := c.Advance(2); err != nil { // width, height
			return carver.FromError(err)
		}
		if err := c.Advance(6); err != nil { // color count, reserved, planes, bpp
			return carver.FromError(err)
		}
		imgSize, err := c.U32LE()
		if err != nil {
			return carver.FromError(err)
		}
		if imgSize == 0 {
			return carver.FromError(errtax.BadFieldf(c.Pos()-4, "ico: zero-size image data"))
		}
		imgOffset, err := c.U32LE()
		if err != nil {
			return carver.FromError(err)
		}
		if offset+int64(imgOffset)+int64(imgSize) > filesize {
			return carver.FromError(errtax.NotEnoughDataf(offset, "ico: image %d data outside file", i))
		}
		if int64(imgOffset) < c.Pos()-offset {
			return carver.FromError(errtax.BadFieldf(c.Pos(), "ico: image %d offset lands inside header", i))
		}
		if end := offset + int64(imgOffset) + int64(imgSize); end > maxEnd {
			maxEnd = end
		}

		peek, perr := bcursor.New(region, offset+int64(imgOffset), 8).Bytes(8)
		if perr != nil {
			return carver.FromError(perr)
		}
		if !bytesEqual(peek, pngSignature) {
			dibSize := uint32(peek[0]) | uint32(peek[1])<<8
			if !validDIBHeaderSizes[dibSize] {
				return carver.FromError(errtax.BadFieldf(offset+int64(imgOffset), "ico: image %d has invalid DIB header size %d", i, dibSize))
			}
		}
	}

	length := maxEnd - offset
	labels := label.NewSet(formatName, label.Graphics, label.Resource)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("ico")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
