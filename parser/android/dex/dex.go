// Package dex implements the Android Dalvik executable parser (spec.md
// §4.5, "DEX (Android Dalvik)"): the classic 112-byte header, its section
// table, and a walk of the string/type/proto/field/method ID tables plus
// the trailing map list.
//
// Grounded on the shared six-step skeleton; the section-table walk
// mirrors parser/filesystem/iso9660's "read a table of (size, offset)
// pairs, bounds-check each against the whole region" pattern, generalized
// from directory-record extents to DEX's nine ID-table descriptors.
package dex

import (
	"bytes"
	"context"
	"crypto/sha1"
	"hash/adler32"
	"io"
	"regexp"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName   = "dex"
	minHeader    = 112
	headerSzWant = 0x70
	endianTag    = 0x12345678
)

// Parser implements carver.Parser for DEX.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"dex"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("dex\n")} }
func (Parser) PrettyName() string   { return "Android Dalvik executable" }

var validVersions = map[string]bool{"035": true, "037": true, "038": true, "039": true}

var shortyPattern = regexp.MustCompile(`^(V|[ZBSCIJFDL])[ZBSCIJFDL]*$`)

type section struct {
	size, off uint32
}

// Parse implements carver.Parser.
func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < minHeader {
		return carver.FromError(errtax.NotEnoughDataf(offset, "dex: region too small for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	magic, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	if string(magic) != "dex\n" {
		return carver.FromError(errtax.BadMagicf(offset, "dex: bad magic %q", magic))
	}
	verBytes, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	version := trimNUL(verBytes)
	if !validVersions[version] {
		return carver.FromError(errtax.BadVersionf(offset, "dex: unsupported version %q", version))
	}

	checksum, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	sig, err := c.Bytes(20)
	if err != nil {
		return carver.FromError(err)
	}
	fileSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if int64(fileSize) > filesize-offset {
		return carver.FromError(errtax.NotEnoughDataf(offset, "dex: declared file_size %d exceeds region", fileSize))
	}
	headerSz, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if headerSz != headerSzWant {
		return carver.FromError(errtax.BadFieldf(offset, "dex: header_size %#x != %#x", headerSz, headerSzWant))
	}
	endian, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if endian != endianTag {
		return carver.FromError(errtax.BadFieldf(offset, "dex: endian_tag %#x != %#x", endian, endianTag))
	}

	link, err := readSection(c)
	if err != nil {
		return carver.FromError(err)
	}
	mapOff, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	strIDs, err := readSection(c)
	if err != nil {
		return carver.FromError(err)
	}
	typeIDs, err := readSection(c)
	if err != nil {
		return carver.FromError(err)
	}
	protoIDs, err := readSection(c)
	if err != nil {
		return carver.FromError(err)
	}
	fieldIDs, err := readSection(c)
	if err != nil {
		return carver.FromError(err)
	}
	methodIDs, err := readSection(c)
	if err != nil {
		return carver.FromError(err)
	}
	classDefs, err := readSection(c)
	if err != nil {
		return carver.FromError(err)
	}
	data, err := readSection(c)
	if err != nil {
		return carver.FromError(err)
	}

	for name, s := range map[string]section{
		"link": link, "string_ids": strIDs, "type_ids": typeIDs, "proto_ids": protoIDs,
		"field_ids": fieldIDs, "method_ids": methodIDs, "class_defs": classDefs, "data": data,
	} {
		if s.size == 0 {
			continue
		}
		if err := boundsCheck(offset, name, int64(s.off), int64(s.size), int64(headerSz), int64(fileSize)); err != nil {
			return carver.FromError(err)
		}
	}
	if mapOff != 0 && (int64(mapOff) < int64(headerSz) || int64(mapOff) >= int64(fileSize)) {
		return carver.FromError(errtax.BadOffsetf(offset, "dex: map_off %d outside [header_size, file_size)", mapOff))
	}

	fileEnd := offset + int64(fileSize)

	checksummed, err := mustRead(region, offset, offset+12, int64(fileSize)-12, fileEnd)
	if err != nil {
		return carver.FromError(err)
	}
	if adler32.Checksum(checksummed) != checksum {
		return carver.FromError(errtax.BadChecksumf(offset, "dex: Adler-32 mismatch"))
	}
	signed, err := mustRead(region, offset, offset+32, int64(fileSize)-32, fileEnd)
	if err != nil {
		return carver.FromError(err)
	}
	gotSHA1 := sha1.Sum(signed)
	if string(gotSHA1[:]) != string(sig) {
		return carver.FromError(errtax.BadChecksumf(offset, "dex: SHA-1 signature mismatch"))
	}

	strCount, serr := readStringIDs(region, offset, strIDs, fileEnd)
	if serr != nil {
		return carver.FromError(serr)
	}
	typeCount, terr := readTypeIDs(c, offset, typeIDs, strCount)
	if terr != nil {
		return carver.FromError(terr)
	}
	if perr := readProtoIDs(region, offset, protoIDs, strIDs, typeCount, fileEnd); perr != nil {
		return carver.FromError(perr)
	}
	if ferr := readFieldIDs(c, offset, fieldIDs, typeCount, strCount); ferr != nil {
		return carver.FromError(ferr)
	}
	if merr := readMethodIDs(c, offset, methodIDs, typeCount, protoIDs.size, strCount); merr != nil {
		return carver.FromError(merr)
	}
	if mapOff != 0 {
		if merr := validateMapList(c, offset, mapOff); merr != nil {
			return carver.FromError(merr)
		}
	}

	length := int64(data.off) + int64(data.size)
	labels := label.NewSet(formatName, label.Android, label.Resource)
	return carver.Succeed(length, labels, nil, nil)
}

func readSection(c *bcursor.Cursor) (section, *errtax.Error) {
	size, err := c.U32LE()
	if err != nil {
		return section{}, err
	}
	off, err := c.U32LE()
	if err != nil {
		return section{}, err
	}
	return section{size: size, off: off}, nil
}

func boundsCheck(offset int64, name string, off, size, headerSz, fileSize int64) *errtax.Error {
	if off < headerSz || off >= fileSize {
		return errtax.BadOffsetf(offset, "dex: %s offset %d outside [header_size, file_size)", name, off)
	}
	return nil
}

func trimNUL(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// mustRead reads n bytes at the absolute offset at, failing if the read
// would cross limit (the file's declared end) or short-reads, instead of
// silently handing back a zero-filled buffer for an out-of-bounds,
// file-supplied offset.
func mustRead(region carver.Region, base, at, n, limit int64) ([]byte, *errtax.Error) {
	if n < 0 || at < base || at+n > limit {
		return nil, errtax.BadOffsetf(base, "dex: read [%d,%d) outside file bounds [%d,%d)", at, at+n, base, limit)
	}
	buf := make([]byte, n)
	read, err := region.ReadAt(buf, at)
	if err != nil && err != io.EOF {
		return nil, errtax.NotEnoughDataf(base, "dex: read at %d: %v", at, err)
	}
	if int64(read) != n {
		return nil, errtax.NotEnoughDataf(base, "dex: short read at %d: got %d of %d bytes", at, read, n)
	}
	return buf, nil
}

func readULEB128(b []byte) (uint32, int) {
	var result uint32
	var shift uint
	for i, by := range b {
		result |= uint32(by&0x7F) << shift
		if by&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}
	return result, len(b)
}

func readStringIDs(region carver.Region, offset int64, s section, limit int64) (uint32, *errtax.Error) {
	for i := uint32(0); i < s.size; i++ {
		entry, err := mustRead(region, offset, offset+int64(s.off)+int64(i)*4, 4, limit)
		if err != nil {
			return 0, err
		}
		dataOff := le32(entry)
		lenPrefix, err := mustRead(region, offset, offset+int64(dataOff), 5, limit)
		if err != nil {
			return 0, err
		}
		if _, n := readULEB128(lenPrefix); n == 0 {
			return 0, errtax.BadFieldf(offset, "dex: string_id[%d] malformed utf16_size uleb128", i)
		}
	}
	return s.size, nil
}

func readTypeIDs(c *bcursor.Cursor, offset int64, s section, strCount uint32) (uint32, *errtax.Error) {
	c.Seek(offset + int64(s.off))
	for i := uint32(0); i < s.size; i++ {
		idx, err := c.U32LE()
		if err != nil {
			return 0, err
		}
		if idx >= strCount {
			return 0, errtax.BadFieldf(offset, "dex: type_id[%d] descriptor_idx %d out of range", i, idx)
		}
	}
	return s.size, nil
}

func readProtoIDs(region carver.Region, offset int64, s, strIDs section, typeCount uint32, limit int64) *errtax.Error {
	for i := uint32(0); i < s.size; i++ {
		entry, err := mustRead(region, offset, offset+int64(s.off)+int64(i)*12, 12, limit)
		if err != nil {
			return err
		}
		shortyIdx := le32(entry[0:4])
		returnTypeIdx := le32(entry[4:8])
		if shortyIdx >= strIDs.size {
			return errtax.BadFieldf(offset, "dex: proto_id[%d] shorty_idx %d out of range", i, shortyIdx)
		}
		if returnTypeIdx >= typeCount {
			return errtax.BadFieldf(offset, "dex: proto_id[%d] return_type_idx %d out of range", i, returnTypeIdx)
		}
		shorty, serr := readString(region, offset, strIDs, shortyIdx, limit)
		if serr != nil {
			return serr
		}
		if !shortyPattern.MatchString(shorty) {
			return errtax.BadFieldf(offset, "dex: proto_id[%d] shorty %q doesn't match descriptor grammar", i, shorty)
		}
	}
	return nil
}

// readString resolves the idx'th string_id's MUTF-8 payload: the
// string_ids table entry is a u32 offset into the data section where a
// ULEB128 utf16_size precedes the NUL-terminated byte string. Every read
// is bounds-checked against limit (the file's declared end), so a
// malformed or out-of-range data_off fails instead of silently resolving
// to a zero-length string.
func readString(region carver.Region, offset int64, strIDs section, idx uint32, limit int64) (string, *errtax.Error) {
	entry, err := mustRead(region, offset, offset+int64(strIDs.off)+int64(idx)*4, 4, limit)
	if err != nil {
		return "", err
	}
	dataOff := le32(entry)
	head, err := mustRead(region, offset, offset+int64(dataOff), 5, limit)
	if err != nil {
		return "", err
	}
	_, n := readULEB128(head)
	readLen := int64(4096)
	if remaining := limit - (offset + int64(dataOff) + int64(n)); remaining < readLen {
		readLen = remaining
	}
	if readLen <= 0 {
		return "", errtax.BadOffsetf(offset, "dex: string data_off %d leaves no room for payload", dataOff)
	}
	buf, err := mustRead(region, offset, offset+int64(dataOff)+int64(n), readLen, limit)
	if err != nil {
		return "", err
	}
	nul := bytes.IndexByte(buf, 0)
	if nul < 0 {
		nul = len(buf)
	}
	return string(buf[:nul]), nil
}

func readFieldIDs(c *bcursor.Cursor, offset int64, s section, typeCount, strCount uint32) *errtax.Error {
	c.Seek(offset + int64(s.off))
	for i := uint32(0); i < s.size; i++ {
		classIdx, err := c.U16LE()
		if err != nil {
			return err
		}
		typeIdx, err := c.U16LE()
		if err != nil {
			return err
		}
		nameIdx, err := c.U32LE()
		if err != nil {
			return err
		}
		if uint32(classIdx) >= typeCount || uint32(typeIdx) >= typeCount || nameIdx >= strCount {
			return errtax.BadFieldf(offset, "dex: field_id[%d] index out of range", i)
		}
	}
	return nil
}

func readMethodIDs(c *bcursor.Cursor, offset int64, s section, typeCount, protoCount, strCount uint32) *errtax.Error {
	c.Seek(offset + int64(s.off))
	for i := uint32(0); i < s.size; i++ {
		classIdx, err := c.U16LE()
		if err != nil {
			return err
		}
		protoIdx, err := c.U16LE()
		if err != nil {
			return err
		}
		nameIdx, err := c.U32LE()
		if err != nil {
			return err
		}
		if uint32(classIdx) >= typeCount || uint32(protoIdx) >= protoCount || nameIdx >= strCount {
			return errtax.BadFieldf(offset, "dex: method_id[%d] index out of range", i)
		}
	}
	return nil
}

var mapEntryTypes = map[uint16]bool{
	0x0000: true, 0x0001: true, 0x0002: true, 0x0003: true, 0x0004: true,
	0x0005: true, 0x0006: true, 0x0007: true, 0x0008: true,
	0x1000: true, 0x1001: true, 0x1002: true, 0x1003: true,
	0x2000: true, 0x2001: true, 0x2002: true, 0x2003: true, 0x2004: true, 0x2005: true, 0x2006: true,
}

func validateMapList(c *bcursor.Cursor, offset int64, mapOff uint32) *errtax.Error {
	c.Seek(offset + int64(mapOff))
	count, err := c.U32LE()
	if err != nil {
		return err
	}
	seen := make(map[uint16]bool, count)
	for i := uint32(0); i < count; i++ {
		typ, err := c.U16LE()
		if err != nil {
			return err
		}
		if _, err := c.U16LE(); err != nil { // unused
			return err
		}
		if _, err := c.U32LE(); err != nil { // size
			return err
		}
		if _, err := c.U32LE(); err != nil { // offset
			return err
		}
		if !mapEntryTypes[typ] {
			return errtax.BadStructuref(offset, "dex: map list item %d has unknown type %#04x", i, typ)
		}
		if seen[typ] {
			return errtax.BadStructuref(offset, "dex: map list type %#04x appears more than once", typ)
		}
		seen[typ] = true
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
