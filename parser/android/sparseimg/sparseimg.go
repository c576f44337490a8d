// Package sparseimg implements the Android sparse image container parser
// (spec.md §4.5, "Android sparse image"): a chunked `RAW`/`FILL`/
// `DONT_CARE`/`CRC32` format distinct from the sparse-data block-image-diff
// format parser/android/sparsedata implements (that one needs a sibling
// transfer list; this one is fully self-describing in one file).
//
// Grounded on the shared six-step skeleton; the chunk walk mirrors
// parser/media/png's chunk loop shape (fixed header, declared body
// length, dispatch on a 4-byte type tag) adapted to this format's binary
// chunk tags instead of ASCII ones.
package sparseimg

import (
	"context"
	"os"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName = "android-sparse-image"
	magic      = 0xED26FF3A
	headerSize = 28
	chunkHdrSz = 12

	chunkRaw      = 0xCAC1
	chunkFill     = 0xCAC2
	chunkDontCare = 0xCAC3
	chunkCRC32    = 0xCAC4
)

// Parser implements carver.Parser for the Android sparse image format.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"img"} }
func (Parser) Signatures() [][]byte { return [][]byte{{0x3A, 0xFF, 0x26, 0xED}} }
func (Parser) PrettyName() string   { return "Android sparse image" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < headerSize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "android-sparse-image: region too small for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	m, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if m != magic {
		return carver.FromError(errtax.BadMagicf(offset, "android-sparse-image: bad magic %#08x", m))
	}
	major, err := c.U16LE()
	if err != nil {
		return carver.FromError(err)
	}
	if major != 1 {
		return carver.FromError(errtax.BadVersionf(offset, "android-sparse-image: unsupported major version %d", major))
	}
	if _, err := c.U16LE(); err != nil { // minor, ignored
		return carver.FromError(err)
	}
	fileHdrSz, err := c.U16LE()
	if err != nil {
		return carver.FromError(err)
	}
	if fileHdrSz != headerSize {
		return carver.FromError(errtax.BadFieldf(offset, "android-sparse-image: file_hdr_sz %d != 28", fileHdrSz))
	}
	chunkHdrSzField, err := c.U16LE()
	if err != nil {
		return carver.FromError(err)
	}
	if chunkHdrSzField != chunkHdrSz {
		return carver.FromError(errtax.BadFieldf(offset, "android-sparse-image: chunk_hdr_sz %d != 12", chunkHdrSzField))
	}
	blkSz, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if blkSz == 0 || blkSz%4 != 0 {
		return carver.FromError(errtax.BadFieldf(offset, "android-sparse-image: blk_sz %d not a multiple of 4", blkSz))
	}
	totalBlks, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	totalChunks, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U32LE(); err != nil { // image checksum, not re-verified
		return carver.FromError(err)
	}

	destName := pathname.StemName("", formatName)
	destPath := env.UnpackPath(destName)
	out, oerr := os.Create(destPath)
	if oerr != nil {
		return carver.FromError(errtax.IOf(offset, oerr, "android-sparse-image: creating output image"))
	}
	defer out.Close()
	if terr := out.Truncate(int64(totalBlks) * int64(blkSz)); terr != nil {
		carveio.RemoveAll(destPath)
		return carver.FromError(errtax.IOf(offset, terr, "android-sparse-image: sizing output image"))
	}

	var blockCursor uint32
	for i := uint32(0); i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			carveio.RemoveAll(destPath)
			return carver.FromError(errtax.Wrap(errtax.IO, offset, err, "android-sparse-image: context canceled"))
		}
		chunkType, err := c.U16LE()
		if err != nil {
			carveio.RemoveAll(destPath)
			return carver.FromError(err)
		}
		if _, err := c.U16LE(); err != nil { // reserved
			carveio.RemoveAll(destPath)
			return carver.FromError(err)
		}
		chunkBlocks, err := c.U32LE()
		if err != nil {
			carveio.RemoveAll(destPath)
			return carver.FromError(err)
		}
		totalSz, err := c.U32LE()
		if err != nil {
			carveio.RemoveAll(destPath)
			return carver.FromError(err)
		}
		bodySz := int64(totalSz) - chunkHdrSz
		if bodySz < 0 {
			carveio.RemoveAll(destPath)
			return carver.FromError(errtax.BadStructuref(offset, "android-sparse-image: chunk %d declares total_sz smaller than header", i))
		}

		dstOff := int64(blockCursor) * int64(blkSz)
		dstLen := int64(chunkBlocks) * int64(blkSz)
		if dstOff+dstLen > int64(totalBlks)*int64(blkSz) {
			carveio.RemoveAll(destPath)
			return carver.FromError(errtax.BadStructuref(offset, "android-sparse-image: chunk %d overruns declared image size", i))
		}

		switch chunkType {
		case chunkRaw:
			if bodySz != dstLen {
				carveio.RemoveAll(destPath)
				return carver.FromError(errtax.BadStructuref(offset, "android-sparse-image: RAW chunk %d body size mismatch", i))
			}
			data, berr := c.Bytes(int(bodySz))
			if berr != nil {
				carveio.RemoveAll(destPath)
				return carver.FromError(berr)
			}
			if _, werr := out.WriteAt(data, dstOff); werr != nil {
				carveio.RemoveAll(destPath)
				return carver.FromError(errtax.IOf(offset, werr, "android-sparse-image: writing RAW chunk"))
			}
		case chunkFill:
			if bodySz != 4 {
				carveio.RemoveAll(destPath)
				return carver.FromError(errtax.BadStructuref(offset, "android-sparse-image: FILL chunk %d body size != 4", i))
			}
			fill, berr := c.Bytes(4)
			if berr != nil {
				carveio.RemoveAll(destPath)
				return carver.FromError(berr)
			}
			buf := make([]byte, dstLen)
			for off := int64(0); off < dstLen; off += 4 {
				copy(buf[off:], fill)
			}
			if _, werr := out.WriteAt(buf, dstOff); werr != nil {
				carveio.RemoveAll(destPath)
				return carver.FromError(errtax.IOf(offset, werr, "android-sparse-image: writing FILL chunk"))
			}
		case chunkDontCare:
			if bodySz != 0 {
				carveio.RemoveAll(destPath)
				return carver.FromError(errtax.BadStructuref(offset, "android-sparse-image: DONT_CARE chunk %d carries a body", i))
			}
			// Leave the region as the OS-zero-filled truncation default.
		case chunkCRC32:
			if bodySz != 4 {
				carveio.RemoveAll(destPath)
				return carver.FromError(errtax.BadStructuref(offset, "android-sparse-image: CRC32 chunk %d body size != 4", i))
			}
			if _, berr := c.Bytes(4); berr != nil { // recorded, not re-verified
				carveio.RemoveAll(destPath)
				return carver.FromError(berr)
			}
		default:
			carveio.RemoveAll(destPath)
			return carver.FromError(errtax.BadStructuref(offset, "android-sparse-image: unknown chunk type %#04x", chunkType))
		}
		blockCursor += chunkBlocks
	}

	length := c.Pos() - offset
	artifactLabels := label.NewSet(formatName, label.Android, label.Filesystem, label.Unpacked)
	artifact := carver.Artifact{RelPath: destName, Labels: artifactLabels}
	return carver.Succeed(length, label.Set{}, []carver.Artifact{artifact}, nil)
}
