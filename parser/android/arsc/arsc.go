// Package arsc implements the Android compiled resource table parser
// (spec.md §4.5, "Android resource table (resources.arsc)"): a
// top-level ResTable_header chunk wrapping a string pool and a sequence
// of package chunks, all sharing the same 8-byte ResChunk_header shape.
//
// Only chunk headers are walked: the string pool's counts and flags are
// read, but its strings are not decoded.
package arsc

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName     = "arsc"
	typeTable      = 0x0002
	typeStringPool = 0x0001
	typePackage    = 0x0200
	typePackageMax = 0x0203
	utf8Flag       = 0x0100
)

// Parser implements carver.Parser for resources.arsc.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"arsc"} }
func (Parser) Signatures() [][]byte { return [][]byte{{0x02, 0x00, 0x0C, 0x00}} }
func (Parser) PrettyName() string   { return "Android compiled resource table" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 12 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "arsc: region too small for table header"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	typ, hdrSize, totalSize, err := readChunkHeader(c)
	if err != nil {
		return carver.FromError(err)
	}
	if typ != typeTable {
		return carver.FromError(errtax.BadMagicf(offset, "arsc: top-level chunk type %#04x != table (0x0002)", typ))
	}
	if hdrSize < 8 {
		return carver.FromError(errtax.BadFieldf(offset, "arsc: table header size %d < 8", hdrSize))
	}
	if int64(totalSize) > filesize-offset {
		return carver.FromError(errtax.BadFieldf(offset, "arsc: table total size %d exceeds region", totalSize))
	}
	if _, err := c.U32LE(); err != nil { // package_count
		return carver.FromError(err)
	}
	c.Seek(offset + int64(hdrSize))

	spTyp, spHdr, spTotal, err := readChunkHeader(c)
	if err != nil {
		return carver.FromError(err)
	}
	if spTyp != typeStringPool {
		return carver.FromError(errtax.BadStructuref(offset, "arsc: expected string pool chunk, got type %#04x", spTyp))
	}
	if _, err := c.U32LE(); err != nil { // string_count
		return carver.FromError(err)
	}
	if _, err := c.U32LE(); err != nil { // style_count
		return carver.FromError(err)
	}
	flags, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U32LE(); err != nil { // strings_start
		return carver.FromError(err)
	}
	if _, err := c.U32LE(); err != nil { // styles_start
		return carver.FromError(err)
	}
	utf8Strings := flags&utf8Flag != 0
	if int64(spHdr) < 28 {
		return carver.FromError(errtax.BadFieldf(offset, "arsc: string pool header size %d too small", spHdr))
	}
	if int64(spTotal) > int64(totalSize) {
		return carver.FromError(errtax.BadFieldf(offset, "arsc: string pool chunk extends past table"))
	}

	pos := offset + int64(hdrSize) + int64(spTotal)
	packageCount := 0
	for pos < offset+int64(totalSize) {
		c.Seek(pos)
		pTyp, pHdr, pTotal, err := readChunkHeader(c)
		if err != nil {
			return carver.FromError(err)
		}
		if pTotal == 0 {
			return carver.FromError(errtax.BadStructuref(offset, "arsc: zero-size chunk at package index %d", packageCount))
		}
		if pos+int64(pTotal) > offset+int64(totalSize) {
			return carver.FromError(errtax.BadOffsetf(offset, "arsc: package chunk extends past table"))
		}
		if pTyp < typePackage || pTyp > typePackageMax {
			return carver.FromError(errtax.BadStructuref(offset, "arsc: chunk type %#04x at package index %d is not a package chunk", pTyp, packageCount))
		}
		if int64(pHdr) < 8 {
			return carver.FromError(errtax.BadFieldf(offset, "arsc: package header size %d too small", pHdr))
		}
		pos += int64(pTotal)
		packageCount++
	}

	length := int64(totalSize)
	labels := label.NewSet(formatName, label.Android, label.Resource)
	return carver.Succeed(length, labels, nil, map[string]any{"packages": packageCount, "utf8Strings": utf8Strings})
}

// readChunkHeader reads the common 8-byte ResChunk_header (type,
// header_size, total_size), all little-endian per the binary XML /
// resource table wire format.
func readChunkHeader(c *bcursor.Cursor) (typ uint16, headerSize uint16, totalSize uint32, err *errtax.Error) {
	typ, err = c.U16LE()
	if err != nil {
		return
	}
	headerSize, err = c.U16LE()
	if err != nil {
		return
	}
	totalSize, err = c.U32LE()
	return
}
