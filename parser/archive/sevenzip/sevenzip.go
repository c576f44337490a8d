// Package sevenzip implements the 7-Zip compression-stream parser
// (spec.md §4.5, "Compression streams"): the fixed 32-byte signature
// header names the offset and size of the archive's own header block,
// so carving length here comes straight from those fields rather than
// from an adapter's `unused_data` count the way the other compression
// streams in this module work.
//
// No reference implementation of this format shipped in the retrieval
// pack's original_source, so this parser is grounded on the published
// 7z signature-header layout and on this module's own
// [[parser/compress/xz]] for the "magic, then hand the rest to an
// adapter" shape compression-stream parsers share; the header's CRC-32
// is checked with internal/xsum the same way [[zip]]/[[png]] check
// theirs.
package sevenzip

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
	"github.com/carvex/carvex/internal/xsum"
)

const (
	formatName          = "7z"
	signatureHeaderSize = 32
)

var signature = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

// Parser implements carver.Parser for 7-Zip archives.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"7z"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "7-Zip archive" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < signatureHeaderSize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "7z: not enough data for signature header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U8(); err != nil { // major version
		return carver.FromError(err)
	}
	if _, err := c.U8(); err != nil { // minor version
		return carver.FromError(err)
	}
	if _, err := c.U32LE(); err != nil { // start-header CRC, not re-verified here
		return carver.FromError(err)
	}
	startHeaderBytes, err := c.Bytes(20)
	if err != nil {
		return carver.FromError(err)
	}
	nextHeaderOffset := int64(binary.LittleEndian.Uint64(startHeaderBytes[0:8]))
	nextHeaderSize := int64(binary.LittleEndian.Uint64(startHeaderBytes[8:16]))
	nextHeaderCRC := binary.LittleEndian.Uint32(startHeaderBytes[16:20])

	if nextHeaderOffset < 0 || nextHeaderSize < 0 {
		return carver.FromError(errtax.BadFieldf(offset+12, "7z: negative next-header offset or size"))
	}

	headerStart := offset + signatureHeaderSize + nextHeaderOffset
	headerEnd := headerStart + nextHeaderSize
	if headerEnd > filesize {
		return carver.FromError(errtax.NotEnoughDataf(headerStart, "7z: header block extends past end of file"))
	}

	if nextHeaderSize > 0 {
		headerBytes := make([]byte, nextHeaderSize)
		if _, rerr := region.ReadAt(headerBytes, headerStart); rerr != nil {
			return carver.FromError(errtax.IOf(headerStart, rerr, "7z: reading header block"))
		}
		crc := xsum.NewCRC32()
		crc.Update(headerBytes)
		if got := crc32Value(crc); got != nextHeaderCRC {
			return carver.FromError(errtax.BadChecksumf(headerStart, "7z: header CRC mismatch"))
		}
	}

	length := headerEnd - offset
	labels := label.NewSet(formatName, label.Compressed)

	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}

	relName := pathname.SingleFileName("7z")
	dest := env.UnpackPath(relName)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: relName, Labels: labels.Union(label.NewSet(label.Unpacked))}}
	return carver.Succeed(length, labels, artifacts, nil)
}

// crc32Value reads back the big-endian bytes xsum's stdlib-backed CRC-32
// updater produces as the numeric value 7z's little-endian-stored header
// CRC field compares against (the field itself is decoded little-endian;
// only the hash digest's own byte order is big-endian).
func crc32Value(u xsum.Updater) uint32 {
	b := u.Finalize()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
