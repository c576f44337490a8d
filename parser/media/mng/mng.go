// Package mng implements the Multiple-image Network Graphics (MNG)
// parser (spec.md §4.5, "Media formats"): PNG's chunk stream format
// (4-byte big-endian length, 4-byte type, length bytes of data, 4-byte
// CRC-32 over type+data) opened with a mandatory 28-byte MHDR chunk and
// closed by a mandatory MEND chunk.
//
// Grounded on original_source/bangmedia.py's unpackMNG and sharing
// [[png]]'s CRC-32 verification approach (both formats use the same
// chunk framing defined by the PNG family of specifications).
package mng

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xsum"
)

const formatName = "mng"

var signature = []byte{0x8A, 'M', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// Parser implements carver.Parser for MNG.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"mng"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Multiple-image Network Graphics" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 52 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "mng: not enough data for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}

	header, err := c.Bytes(40)
	if err != nil {
		return carver.FromError(err)
	}
	if string(header[0:4]) != "\x00\x00\x00\x1c" {
		return carver.FromError(errtax.BadStructuref(offset+8, "mng: first chunk length is not 28 bytes"))
	}
	if string(header[4:8]) != "MHDR" {
		return carver.FromError(errtax.BadStructuref(offset+12, "mng: first chunk is not MHDR"))
	}
	if chunkCRC32(header[4:len(header)-4]) != be32(header[len(header)-4:]) {
		return carver.FromError(errtax.BadChecksumf(offset+8, "mng: MHDR CRC mismatch"))
	}

	sawMEND := false
	for {
		chunkSize, err := c.U32BE()
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "mng: could not read chunk size"))
		}
		if offset+(c.Pos()-offset)+int64(chunkSize) > filesize {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "mng: chunk data bigger than file"))
		}
		typeAndData, err := c.Bytes(4 + int(chunkSize))
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "mng: could not read chunk type/data"))
		}
		crcStored, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		if chunkCRC32(typeAndData) != crcStored {
			return carver.FromError(errtax.BadChecksumf(c.Pos()-4, "mng: chunk CRC mismatch"))
		}
		if string(typeAndData[0:4]) == "MEND" {
			sawMEND = true
			break
		}
	}
	if !sawMEND {
		return carver.FromError(errtax.BadStructuref(offset, "mng: no MEND chunk found"))
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("mng")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}

func chunkCRC32(b []byte) uint32 {
	crc := xsum.NewCRC32()
	crc.Update(b)
	sum := crc.Finalize()
	return be32(sum)
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
