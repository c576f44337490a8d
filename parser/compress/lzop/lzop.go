// Package lzop implements the LZOP compression-stream parser (spec.md
// §4.5, "Compression streams"): a 9-byte magic, a version-gated header
// of encoder metadata, and a sequence of explicitly length-prefixed
// blocks terminated by a zero-length block. Unlike gzip/xz/lzma, every
// block's size is named in the container itself, so — like
// [[parser/compress/lzip]] — carving length here comes from walking
// those fields rather than from "consume to end of file".
//
// No reference implementation of this format shipped in the retrieval
// pack's original_source; grounded on the published lzop file format
// and on this module's own compression-stream parsers for the
// "magic, then hand blocks off to internal/xfmt" shape. Stored blocks
// (compressed size equal to uncompressed size) are copied as-is; a
// compressed block makes the parse fail, because internal/xfmt reports
// LZO as unsupported.
package lzop

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xfmt"
)

const formatName = "lzop"

var signature = []byte{0x89, 'L', 'Z', 'O', 0x00, 0x0D, 0x0A, 0x1A, 0x0A}

const (
	flagAdler32D   = 0x00000001
	flagAdler32C   = 0x00000002
	flagCRC32D     = 0x00000100
	flagCRC32C     = 0x00000200
	flagExtraField = 0x00000040
	flagFilter     = 0x00000800
)

// Parser implements carver.Parser for LZOP streams.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"lzo"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "LZOP compressed data" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	version, err := c.U16BE()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U16BE(); err != nil { // library version needed to decompress
		return carver.FromError(err)
	}
	if version >= 0x0940 {
		if _, err := c.U16BE(); err != nil { // library version needed to extract
			return carver.FromError(err)
		}
	}
	if _, err := c.U8(); err != nil { // method
		return carver.FromError(err)
	}
	if version >= 0x0940 {
		if _, err := c.U8(); err != nil { // level
			return carver.FromError(err)
		}
	}
	flags, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if flags&flagFilter != 0 {
		if _, err := c.U32BE(); err != nil { // filter
			return carver.FromError(err)
		}
	}
	if _, err := c.U32BE(); err != nil { // mode
		return carver.FromError(err)
	}
	if _, err := c.U32BE(); err != nil { // mtime low
		return carver.FromError(err)
	}
	if version >= 0x0940 {
		if _, err := c.U32BE(); err != nil { // mtime high
			return carver.FromError(err)
		}
	}
	nameLen, err := c.U8()
	if err != nil {
		return carver.FromError(err)
	}
	if nameLen > 0 {
		if _, err := c.Bytes(int(nameLen)); err != nil {
			return carver.FromError(err)
		}
	}
	if _, err := c.U32BE(); err != nil { // header checksum
		return carver.FromError(err)
	}
	if flags&flagExtraField != 0 {
		extraLen, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		if _, err := c.Bytes(int(extraLen)); err != nil {
			return carver.FromError(err)
		}
		if _, err := c.U32BE(); err != nil { // extra field checksum
			return carver.FromError(err)
		}
	}

	var decoded []byte
	for {
		if cerr := ctx.Err(); cerr != nil {
			return carver.Fail(c.Pos(), true, cerr.Error())
		}
		uncompSize, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		if uncompSize == 0 {
			break
		}
		compSize, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		if flags&(flagAdler32D|flagCRC32D) != 0 {
			if _, err := c.U32BE(); err != nil { // uncompressed-data checksum
				return carver.FromError(err)
			}
		}
		if compSize < uncompSize && flags&(flagAdler32C|flagCRC32C) != 0 {
			if _, err := c.U32BE(); err != nil { // compressed-data checksum
				return carver.FromError(err)
			}
		}
		block, err := c.Bytes(int(compSize))
		if err != nil {
			return carver.FromError(err)
		}
		if compSize < uncompSize {
			st, oerr := xfmt.Open(xfmt.LZO, nil)
			if oerr != nil {
				return carver.FromError(errtax.Wrap(errtax.BadField, c.Pos()-int64(compSize), oerr, "lzop: opening adapter"))
			}
			out, derr := st.Feed(block)
			if derr != nil {
				return carver.FromError(errtax.Wrap(errtax.BadStructure, c.Pos()-int64(compSize), derr, "lzop: decoding block"))
			}
			decoded = append(decoded, out...)
		} else {
			decoded = append(decoded, block...)
		}
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Compressed)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	relName := pathname.SingleFileName("lzo")
	dest := env.UnpackPath(relName)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	decName := "unpacked.decoded"
	if werr := carveio.WriteFile(env.UnpackPath(decName), decoded); werr != nil {
		return carver.FromError(werr)
	}
	artifacts := []carver.Artifact{
		{RelPath: relName, Labels: labels.Union(label.NewSet(label.Unpacked))},
		{RelPath: decName, Labels: label.NewSet(label.Unpacked)},
	}
	return carver.Succeed(length, label.Set{}, artifacts, nil)
}
