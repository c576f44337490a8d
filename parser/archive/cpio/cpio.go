// Package cpio implements the four classic cpio archive variants
// (spec.md §4.5, "Archives"): old binary, old ASCII ("odc"), new ASCII
// ("newc"), and new ASCII with checksum ("crc"). All four are
// record-linked: a fixed header carries the member's name length and
// data length, the name follows, then the data, with variant-specific
// padding between fields.
//
// No reference implementation of this format shipped in the retrieval
// pack's original_source, so this parser is grounded on the published
// cpio header layouts (man 5 cpio) and on this module's own
// [[tarfmt]] package for the record-walk/trailer-sentinel shape shared
// by every linked-record archive format here.
package cpio

import (
	"context"
	"encoding/binary"
	"path"
	"strconv"
	"strings"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
)

const formatName = "cpio"

const trailerName = "TRAILER!!!"

type variant int

const (
	variantBinLE variant = iota
	variantBinBE
	variantODC
	variantNewC
	variantCRC
)

var (
	binMagicLE = []byte{0xC7, 0x71}
	binMagicBE = []byte{0x71, 0xC7}
	odcMagic   = []byte("070707")
	newcMagic  = []byte("070701")
	crcMagic   = []byte("070702")
)

// Parser implements carver.Parser for cpio archives.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"cpio"} }
func (Parser) Signatures() [][]byte { return [][]byte{binMagicLE, binMagicBE, odcMagic, newcMagic, crcMagic} }
func (Parser) PrettyName() string   { return "cpio archive" }

type member struct {
	name       string
	size       int64
	dataOffset int64
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 6 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "cpio: not enough data for magic"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	v, err := detectVariant(c)
	if err != nil {
		return carver.FromError(err)
	}

	var members []member
	for {
		if cerr := ctx.Err(); cerr != nil {
			return carver.Fail(c.Pos(), true, cerr.Error())
		}
		name, size, dataOffset, err := parseEntry(c, v, filesize)
		if err != nil {
			return carver.FromError(err)
		}
		if name == trailerName {
			break
		}
		members = append(members, member{name: name, size: size, dataOffset: dataOffset})
		if err := c.Advance(size); err != nil {
			return carver.FromError(err)
		}
		if pad := paddingFor(v, size); pad > 0 {
			if err := c.Advance(pad); err != nil {
				return carver.FromError(err)
			}
		}
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Filesystem)

	if carver.WholeFile(offset, length, filesize) {
		if werr := extractMembers(region, members, env.OutputDirectory); werr != nil {
			return carver.FromError(werr)
		}
		return carver.Succeed(length, labels, artifactsFor(members), nil)
	}

	stagedRel := pathname.SingleFileName("cpio")
	stagedPath := env.UnpackPath(stagedRel)
	if cerr := carveio.CopyRange(region, offset, length, stagedPath); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: stagedRel, Labels: labels.Union(label.NewSet(label.Unpacked))}}
	return carver.Succeed(length, labels, artifacts, nil)
}

func detectVariant(c *bcursor.Cursor) (variant, *errtax.Error) {
	magic, err := c.Peek(6)
	if err != nil {
		return 0, errtax.NotEnoughDataf(c.Pos(), "cpio: not enough data for magic")
	}
	switch {
	case bytesEq(magic[:2], binMagicLE):
		return variantBinLE, nil
	case bytesEq(magic[:2], binMagicBE):
		return variantBinBE, nil
	case bytesEq(magic, odcMagic):
		return variantODC, nil
	case bytesEq(magic, newcMagic):
		return variantNewC, nil
	case bytesEq(magic, crcMagic):
		return variantCRC, nil
	default:
		return 0, errtax.BadMagicf(c.Pos(), "cpio: unrecognized magic")
	}
}

// parseEntry reads one header+name record and returns the member's
// name, data size, and the absolute offset at which its data begins.
// The cursor is left positioned at the start of the data.
func parseEntry(c *bcursor.Cursor, v variant, filesize int64) (string, int64, int64, *errtax.Error) {
	switch v {
	case variantBinLE, variantBinBE:
		return parseBinEntry(c, v, filesize)
	case variantODC:
		return parseODCEntry(c, filesize)
	case variantNewC, variantCRC:
		return parseNewCEntry(c, filesize)
	}
	panic("cpio: unreachable variant")
}

func order(v variant) binary.ByteOrder {
	if v == variantBinBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func parseBinEntry(c *bcursor.Cursor, v variant, filesize int64) (string, int64, int64, *errtax.Error) {
	start := c.Pos()
	header, err := c.Bytes(26)
	if err != nil {
		return "", 0, 0, err
	}
	ord := order(v)
	u16 := func(off int) uint16 { return ord.Uint16(header[off : off+2]) }
	namesize := u16(20)
	// c_mtime and c_filesize are stored as two 16-bit halfwords,
	// most-significant first, rather than a native 32-bit field.
	filesizeHi, filesizeLo := u16(22), u16(24)
	filesize64 := int64(filesizeHi)<<16 | int64(filesizeLo)

	if namesize == 0 {
		return "", 0, 0, errtax.BadFieldf(start+20, "cpio: zero-length member name")
	}
	nameBytes, err := c.Bytes(int(namesize))
	if err != nil {
		return "", 0, 0, err
	}
	name := cstr(nameBytes)
	// header(26) + name is padded to an even total offset from start.
	if pad := evenPad(c.Pos() - start); pad > 0 {
		if err := c.Advance(pad); err != nil {
			return "", 0, 0, err
		}
	}
	if c.Pos()+filesize64 > filesize {
		return "", 0, 0, errtax.NotEnoughDataf(c.Pos(), "cpio: member data extends past end of file")
	}
	return name, filesize64, c.Pos(), nil
}

func parseODCEntry(c *bcursor.Cursor, filesize int64) (string, int64, int64, *errtax.Error) {
	start := c.Pos()
	header, err := c.Bytes(76)
	if err != nil {
		return "", 0, 0, err
	}
	namesize, perr := parseOctalField(string(header[59:65]))
	if perr != nil {
		return "", 0, 0, errtax.BadFieldf(start+59, "cpio: unparsable namesize field")
	}
	dataSize, perr := parseOctalField(string(header[65:76]))
	if perr != nil {
		return "", 0, 0, errtax.BadFieldf(start+65, "cpio: unparsable filesize field")
	}
	if namesize == 0 {
		return "", 0, 0, errtax.BadFieldf(start+59, "cpio: zero-length member name")
	}
	nameBytes, err := c.Bytes(int(namesize))
	if err != nil {
		return "", 0, 0, err
	}
	name := cstr(nameBytes)
	if c.Pos()+dataSize > filesize {
		return "", 0, 0, errtax.NotEnoughDataf(c.Pos(), "cpio: member data extends past end of file")
	}
	return name, dataSize, c.Pos(), nil
}

func parseNewCEntry(c *bcursor.Cursor, filesize int64) (string, int64, int64, *errtax.Error) {
	start := c.Pos()
	header, err := c.Bytes(110)
	if err != nil {
		return "", 0, 0, err
	}
	field := func(off int) (int64, *errtax.Error) {
		v, perr := strconv.ParseInt(string(header[off:off+8]), 16, 64)
		if perr != nil {
			return 0, errtax.BadFieldf(start+int64(off), "cpio: unparsable hex field")
		}
		return v, nil
	}
	filesz, ferr := field(6 + 6*8) // c_filesize
	if ferr != nil {
		return "", 0, 0, ferr
	}
	namesize, nerr := field(6 + 11*8) // c_namesize
	if nerr != nil {
		return "", 0, 0, nerr
	}
	if namesize == 0 {
		return "", 0, 0, errtax.BadFieldf(start+6+11*8, "cpio: zero-length member name")
	}
	nameBytes, err := c.Bytes(int(namesize))
	if err != nil {
		return "", 0, 0, err
	}
	name := cstr(nameBytes)
	// header(110) + name is padded to a 4-byte boundary measured from
	// the start of the header.
	if pad := pad4(c.Pos() - start); pad > 0 {
		if err := c.Advance(pad); err != nil {
			return "", 0, 0, err
		}
	}
	if c.Pos()+filesz > filesize {
		return "", 0, 0, errtax.NotEnoughDataf(c.Pos(), "cpio: member data extends past end of file")
	}
	return name, filesz, c.Pos(), nil
}

// paddingFor returns the trailing pad bytes after a member's data,
// measured purely from the data length (every variant's data padding
// is self-contained, unlike the header+name padding above).
func paddingFor(v variant, size int64) int64 {
	switch v {
	case variantBinLE, variantBinBE:
		return evenPad(size)
	case variantNewC, variantCRC:
		return pad4(size)
	default: // ODC has no padding
		return 0
	}
}

func evenPad(n int64) int64 {
	if n%2 != 0 {
		return 1
	}
	return 0
}

func pad4(n int64) int64 {
	if rem := n % 4; rem != 0 {
		return 4 - rem
	}
	return 0
}

func extractMembers(region carver.Region, members []member, outDir string) *errtax.Error {
	for _, m := range members {
		if m.name == "" || m.size == 0 || strings.HasSuffix(m.name, "/") {
			continue
		}
		if werr := carveio.CopyRange(region, m.dataOffset, m.size, joinPath(outDir, m.name)); werr != nil {
			return werr
		}
	}
	return nil
}

func artifactsFor(members []member) []carver.Artifact {
	var out []carver.Artifact
	for _, m := range members {
		if m.name == "" {
			continue
		}
		out = append(out, carver.Artifact{RelPath: m.name, Labels: label.NewSet(label.Unpacked)})
	}
	return out
}

func joinPath(dir, name string) string {
	cleaned, ok := pathname.Contain(name)
	if !ok {
		cleaned = pathname.Clean(name)
	}
	return path.Join(dir, cleaned)
}

func bytesEq(a, b []byte) bool {
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

func cstr(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func parseOctalField(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 8, 64)
}
