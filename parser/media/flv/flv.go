// Package flv implements the FLV (Flash Video) parser (spec.md §4.5,
// "Media formats"): a 9-byte-or-larger header giving a header size,
// followed by a stream of tags each bracketed by a PreviousTagSize
// field that must equal the tag's own length.
//
// Grounded on original_source/bangmedia.py's unpackFLV, including its
// "FLV has no trailer, so stop at the last tag that validated rather
// than failing the whole file" behavior once at least one tag has
// unpacked successfully — a malformed tag after real data ends the
// stream without making the carve fail.
package flv

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

const formatName = "flv"

var signature = []byte("FLV")

// Parser implements carver.Parser for FLV.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"flv"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Flash Video" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 9 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "flv: fewer than 9 bytes"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	version, err := c.U8()
	if err != nil {
		return carver.FromError(err)
	}
	if version != 1 {
		return carver.FromError(errtax.BadFieldf(offset+3, "flv: unrecognized file version %d", version))
	}
	typeFlags, err := c.U8()
	if err != nil {
		return carver.FromError(err)
	}
	if typeFlags>>1&1 != 0 || typeFlags>>3 != 0 {
		return carver.FromError(errtax.BadFieldf(offset+4, "flv: reserved bits set in TypeFlags"))
	}
	headerSize, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if headerSize < 9 {
		return carver.FromError(errtax.BadFieldf(offset+5, "flv: header size %d smaller than minimum", headerSize))
	}
	if offset+int64(headerSize) > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "flv: not enough bytes for header"))
	}
	c.Seek(offset + int64(headerSize))

	firstPreviousTagSize, err := c.U32BE()
	if err != nil {
		return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "flv: not enough bytes for tag"))
	}
	if firstPreviousTagSize != 0 {
		return carver.FromError(errtax.BadFieldf(c.Pos()-4, "flv: wrong previous tag size"))
	}

	dataUnpacked := false
	var unpackedEnd int64

	for {
		tagStart := c.Pos()
		flagsByte, err := c.U8()
		if err != nil {
			if dataUnpacked {
				break
			}
			return carver.FromError(errtax.NotEnoughDataf(tagStart, "flv: not enough bytes for tag"))
		}
		if flagsByte&0xC0 != 0 {
			if dataUnpacked {
				c.Seek(tagStart)
				break
			}
			return carver.FromError(errtax.BadFieldf(tagStart, "flv: reserved bits not 0"))
		}

		dataSizeBytes, err := c.Bytes(3)
		if err != nil {
			if dataUnpacked {
				c.Seek(tagStart)
				break
			}
			return carver.FromError(errtax.NotEnoughDataf(tagStart, "flv: not enough bytes for tag data size"))
		}
		tagDataSize := int64(dataSizeBytes[0])<<16 | int64(dataSizeBytes[1])<<8 | int64(dataSizeBytes[2])
		if tagStart+11+tagDataSize > filesize {
			if dataUnpacked {
				c.Seek(tagStart)
				break
			}
			return carver.FromError(errtax.NotEnoughDataf(tagStart, "flv: tag extends past end of file"))
		}

		if err := c.Advance(4); err != nil { // timestamp + timestamp extended
			return carver.FromError(err)
		}
		streamID, err := c.Bytes(3)
		if err != nil {
			if dataUnpacked {
				c.Seek(tagStart)
				break
			}
			return carver.FromError(errtax.NotEnoughDataf(tagStart, "flv: not enough bytes for stream id"))
		}
		if streamID[0] != 0 || streamID[1] != 0 || streamID[2] != 0 {
			if dataUnpacked {
				c.Seek(tagStart)
				break
			}
			return carver.FromError(errtax.BadFieldf(tagStart, "flv: stream id not 0"))
		}

		if err := c.Advance(tagDataSize); err != nil {
			return carver.FromError(err)
		}
		tagEnd := c.Pos()

		previousTagSize, err := c.U32BE()
		if err != nil {
			if dataUnpacked {
				c.Seek(tagStart)
				break
			}
			return carver.FromError(errtax.NotEnoughDataf(tagStart, "flv: not enough bytes for tag size"))
		}
		if previousTagSize != uint32(tagEnd-tagStart) {
			if dataUnpacked {
				c.Seek(tagStart)
				break
			}
			return carver.FromError(errtax.BadFieldf(tagStart, "flv: stored tag size does not match tag size"))
		}
		dataUnpacked = true
		unpackedEnd = c.Pos()
		if c.Pos() == filesize {
			break
		}
	}

	if !dataUnpacked {
		return carver.FromError(errtax.BadStructuref(offset, "flv: no data could be unpacked"))
	}

	length := unpackedEnd - offset
	labels := label.NewSet(formatName, "video")
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	rel := pathname.SingleFileName("flv")
	dest := env.UnpackPath(rel)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: rel, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}
