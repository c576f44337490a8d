// Package ktx implements the Khronos KTX texture container parser
// (spec.md §4.5, "Media formats"): a 12-byte magic+identifier, a
// 4-byte endianness marker, a fixed run of GL metadata fields, a
// variable-length key/value block, and a sequence of mipmap levels
// each prefixed by its own image size.
//
// Grounded on original_source/bangmedia.py's unpackKTX11: same field
// order, the same glType/glFormat consistency checks for compressed
// textures, the same key/value and mipmap padding-must-be-zero checks,
// and the same GL_PALETTE_* special case that forces a single mipmap
// level regardless of the declared level count.
package ktx

import (
	"context"
	"encoding/binary"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
)

const formatName = "ktx"

var signature = []byte("\xABKTX 11\xBB\r\n\x1A\n")

// Parser implements carver.Parser for Khronos KTX texture files.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"ktx"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Khronos KTX texture" }

var paletteFormats = map[uint32]bool{
	0x8B90: true, 0x8B91: true, 0x8B92: true, 0x8B93: true, 0x8B94: true,
	0x8B95: true, 0x8B96: true, 0x8B97: true, 0x8B98: true, 0x8B99: true,
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 64 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "ktx: not enough data for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}

	endianMark, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	var order binary.ByteOrder
	switch {
	case bytesEqual(endianMark, []byte{0x01, 0x02, 0x03, 0x04}):
		order = binary.LittleEndian
	case bytesEqual(endianMark, []byte{0x04, 0x03, 0x02, 0x01}):
		order = binary.BigEndian
	default:
		return carver.FromError(errtax.BadFieldf(c.Pos()-4, "ktx: wrong endianness bytes"))
	}

	read32 := func() (uint32, *errtax.Error) {
		b, err := c.Bytes(4)
		if err != nil {
			return 0, err
		}
		return order.Uint32(b), nil
	}

	glType, err := read32()
	if err != nil {
		return carver.FromError(err)
	}
	compressed := glType == 0

	glTypeSize, err := read32()
	if err != nil {
		return carver.FromError(err)
	}
	if compressed && glTypeSize != 1 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-4, "ktx: wrong value for glTypeSize"))
	}

	glFormat, err := read32()
	if err != nil {
		return carver.FromError(err)
	}
	if compressed && glFormat != 0 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-4, "ktx: wrong value for glFormat"))
	}

	glInternalFormat, err := read32()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := read32(); err != nil { // glBaseInternalFormat
		return carver.FromError(err)
	}
	if _, err := read32(); err != nil { // pixelWidth
		return carver.FromError(err)
	}
	if _, err := read32(); err != nil { // pixelHeight
		return carver.FromError(err)
	}
	if _, err := read32(); err != nil { // pixelDepth
		return carver.FromError(err)
	}
	if _, err := read32(); err != nil { // numberOfArrayElements
		return carver.FromError(err)
	}

	numberOfFaces, err := read32()
	if err != nil {
		return carver.FromError(err)
	}
	if numberOfFaces != 1 && numberOfFaces != 6 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-4, "ktx: wrong value for numberOfFaces"))
	}

	numberOfMipmapLevels, err := read32()
	if err != nil {
		return carver.FromError(err)
	}

	bytesOfKeyValueData, err := read32()
	if err != nil {
		return carver.FromError(err)
	}
	if offset+c.Pos()-offset+int64(bytesOfKeyValueData) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "ktx: not enough data for key/value data"))
	}

	bytesToRead := int64(bytesOfKeyValueData)
	for bytesToRead > 0 {
		keyValueSize, err := read32()
		if err != nil {
			return carver.FromError(err)
		}
		bytesToRead -= 4
		if int64(keyValueSize) > bytesToRead {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "ktx: not enough data for key/value data"))
		}
		if err := c.Advance(int64(keyValueSize)); err != nil {
			return carver.FromError(err)
		}
		bytesToRead -= int64(keyValueSize)

		paddingSize := int64(0)
		if keyValueSize%4 != 0 {
			paddingSize = 4 - int64(keyValueSize%4)
			pad, err := c.Bytes(paddingSize)
			if err != nil {
				return carver.FromError(err)
			}
			if !allZero(pad) {
				return carver.FromError(errtax.BadFieldf(c.Pos()-paddingSize, "ktx: wrong value for padding bytes"))
			}
		}
		bytesToRead -= paddingSize
	}

	var nrLevels uint32
	switch {
	case numberOfMipmapLevels == 0:
		nrLevels = 1
	case paletteFormats[glInternalFormat]:
		nrLevels = 1
	default:
		nrLevels = numberOfMipmapLevels
	}

	for i := uint32(0); i < nrLevels; i++ {
		levelSize, err := read32()
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "ktx: not enough data for mipmap level size"))
		}
		imageSize := int64(numberOfFaces) * int64(levelSize)
		if c.Pos()+imageSize > filesize {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "ktx: not enough data for mipmap image"))
		}
		if err := c.Advance(imageSize); err != nil {
			return carver.FromError(err)
		}

		paddingSize := int64(0)
		if imageSize%4 != 0 {
			paddingSize = 4 - imageSize%4
			pad, err := c.Bytes(paddingSize)
			if err != nil {
				return carver.FromError(err)
			}
			if !allZero(pad) {
				return carver.FromError(errtax.BadFieldf(c.Pos()-paddingSize, "ktx: wrong value for padding bytes"))
			}
		}
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("ktx")
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

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
