// Package iso9660 implements the ISO 9660 filesystem parser (spec.md
// §4.5, "ISO 9660"): a 32768-byte system area, a run of 2048-byte volume
// descriptors, and a recursively-walked directory tree carrying System Use
// Sharing Protocol (SUSP)/Rock Ridge extensions — long names, symlinks,
// the CL/PL/RE directory-relocation trio, and zisofs per-file compression.
//
// Grounded on the shared six-step skeleton; the CL/PL relocation pass
// follows design note "Cyclic references in ISO relocations" verbatim:
// two parallel extent-keyed maps, reconciled in a pass after the full tree
// is built rather than during traversal.
package iso9660

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"path"
	"strings"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xfmt"
)

const (
	formatName  = "iso9660"
	systemArea  = 32768
	vdMagic     = "CD001"
	vdTypePVD   = 1
	vdTypeTerm  = 255
	maxDirDepth = 64
)

var zisofsMagic = []byte{0x37, 0xE4, 0x53, 0x96, 0xC9, 0xDB, 0xD6, 0x07}

type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"iso"} }
func (Parser) Signatures() [][]byte { return nil } // magic sits 32769 bytes in; dispatched by filename/offset scan upstream
func (Parser) PrettyName() string   { return "ISO 9660 optical disc image" }

type rrInfo struct {
	name          string
	hasName       bool
	isSymlink     bool
	symlinkTarget string
	hasCL         bool
	clExtent      uint32
	hasPL         bool
	plExtent      uint32
	hasRE         bool
	hasZF         bool
	hasSP         bool
	spSkip        int
}

type dirEntry struct {
	parentExtent uint32
	extent       uint32
	dataLen      uint32
	isDir        bool
	name         string
	path         string
	rr           rrInfo
	skip         bool
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < systemArea+2048 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "iso9660: region too small for a system area plus one descriptor"))
	}

	var spaceSize, blockSize uint32
	var rootExtent, rootDataLen uint32
	sawPVD, sawTerm := false, false

	for lba := int64(16); ; lba++ {
		abs := offset + lba*2048
		if abs+2048 > filesize {
			break
		}
		sector, rerr := readAt(region, abs, 2048)
		if rerr != nil {
			return carver.FromError(rerr)
		}
		if string(sector[1:6]) != vdMagic {
			return carver.FromError(errtax.BadMagicf(abs, "iso9660: missing CD001 at volume descriptor %d", lba-16))
		}
		switch sector[0] {
		case vdTypePVD:
			sawPVD = true
			ssLE := binary.LittleEndian.Uint32(sector[80:84])
			ssBE := binary.BigEndian.Uint32(sector[84:88])
			if ssLE != ssBE {
				return carver.FromError(errtax.BadFieldf(abs, "iso9660: volume space size LE/BE mismatch"))
			}
			bsLE := binary.LittleEndian.Uint16(sector[128:130])
			bsBE := binary.BigEndian.Uint16(sector[130:132])
			if bsLE != bsBE {
				return carver.FromError(errtax.BadFieldf(abs, "iso9660: logical block size LE/BE mismatch"))
			}
			spaceSize = ssLE
			blockSize = uint32(bsLE)
			root := sector[156:190]
			rootExtent = binary.LittleEndian.Uint32(root[2:6])
			rootDataLen = binary.LittleEndian.Uint32(root[10:14])
		case vdTypeTerm:
			sawTerm = true
		}
		if sawTerm {
			break
		}
	}
	if !sawPVD {
		return carver.FromError(errtax.BadStructuref(offset, "iso9660: no Primary Volume Descriptor found"))
	}
	if !sawTerm {
		return carver.FromError(errtax.BadStructuref(offset, "iso9660: no Volume Descriptor Set Terminator found"))
	}
	if blockSize == 0 {
		return carver.FromError(errtax.BadFieldf(offset, "iso9660: logical block size is zero"))
	}

	var entries []dirEntry
	plOriginalParent := make(map[uint32]uint32)

	if cerr := ctx.Err(); cerr != nil {
		return carver.Fail(offset, true, cerr.Error())
	}

	if werr := walkDir(region, offset, filesize, int64(blockSize), rootExtent, rootDataLen, "", 0, &entries, plOriginalParent, new(int)); werr != nil {
		return carver.FromError(werr)
	}

	if rerr := relocate(entries, plOriginalParent); rerr != nil {
		return carver.FromError(rerr)
	}

	var artifacts []carver.Artifact
	artifactLabels := label.NewSet(formatName, label.Filesystem, label.Unpacked)
	for _, e := range entries {
		if e.skip || e.isDir {
			continue
		}
		content, cerr := readFileContent(region, offset, filesize, int64(blockSize), e)
		if cerr != nil {
			return carver.FromError(cerr)
		}
		dest := env.UnpackPath(e.path)
		if werr := carveio.WriteFile(dest, content); werr != nil {
			return carver.FromError(werr)
		}
		artifacts = append(artifacts, carver.Artifact{RelPath: e.path, Labels: artifactLabels})
	}

	length := int64(spaceSize) * int64(blockSize)
	if offset+length > filesize {
		length = filesize - offset
	}
	return carver.Succeed(length, label.Set{}, artifacts, nil)
}

func readAt(region carver.Region, abs int64, n int) ([]byte, *errtax.Error) {
	buf := make([]byte, n)
	read, err := region.ReadAt(buf, abs)
	if err != nil && err != io.EOF {
		return nil, errtax.IOf(abs, err, "iso9660: read failed")
	}
	if read != n {
		return nil, errtax.NotEnoughDataf(abs, "iso9660: short read: got %d of %d", read, n)
	}
	return buf, nil
}

// walkDir reads every 2048-byte block of the extent [extent, extent+dataLen)
// and recurses into subdirectories, appending every non-"."/".." entry to
// entries with its natural (pre-relocation) path. plMap records, for a
// directory's own extent, the original parent extent a PL record on its
// self-entry declares (spec.md §4.5, "ISO 9660"; design note "Cyclic
// references in ISO relocations").
func walkDir(region carver.Region, base, filesize, blockSize int64, extent, dataLen uint32, parentPath string, depth int, entries *[]dirEntry, plMap map[uint32]uint32, skipLen *int) *errtax.Error {
	if depth > maxDirDepth {
		return errtax.BadStructuref(base, "iso9660: directory nesting exceeds %d", maxDirDepth)
	}
	numBlocks := (int64(dataLen) + blockSize - 1) / blockSize
	for b := int64(0); b < numBlocks; b++ {
		abs := base + int64(extent)*blockSize + b*blockSize
		blockData, err := readAt(region, abs, int(blockSize))
		if err != nil {
			return err
		}
		pos := 0
		first := true
		for pos < len(blockData) {
			recLen := int(blockData[pos])
			if recLen == 0 {
				break
			}
			if pos+recLen > len(blockData) || recLen < 34 {
				return errtax.BadStructuref(abs+int64(pos), "iso9660: directory record overruns block")
			}
			rec := blockData[pos : pos+recLen]
			extentLoc := binary.LittleEndian.Uint32(rec[2:6])
			recDataLen := binary.LittleEndian.Uint32(rec[10:14])
			flags := rec[25]
			nameLen := int(rec[32])
			if 33+nameLen > len(rec) {
				return errtax.BadStructuref(abs+int64(pos), "iso9660: directory record name overruns record")
			}
			name := string(rec[33 : 33+nameLen])
			suStart := 33 + nameLen
			if nameLen%2 == 0 {
				suStart++
			}
			var su []byte
			if suStart < len(rec) {
				su = rec[suStart:]
			}
			isDot := nameLen == 1 && rec[33] == 0
			isDotDot := nameLen == 1 && rec[33] == 1

			rr, rerr := parseSUSP(region, base, filesize, su, *skipLen)
			if rerr != nil {
				return rerr
			}

			if isDot && first {
				if depth == 0 && rr.hasSP {
					*skipLen = rr.spSkip
				}
				if rr.hasPL {
					plMap[extent] = rr.plExtent
				}
			}

			if !isDot && !isDotDot {
				finalName := name
				// Trim the ";version" ISO-9660 suffix on non-Rock-Ridge names.
				if i := strings.IndexByte(finalName, ';'); i >= 0 {
					finalName = finalName[:i]
				}
				if rr.hasName {
					finalName = rr.name
				}
				isDir := flags&0x02 != 0
				e := dirEntry{
					parentExtent: extent,
					extent:       extentLoc,
					dataLen:      recDataLen,
					isDir:        isDir,
					name:         finalName,
					path:         path.Join(parentPath, finalName),
					rr:           rr,
				}
				*entries = append(*entries, e)
				if isDir && !rr.hasCL {
					if werr := walkDir(region, base, filesize, blockSize, extentLoc, recDataLen, e.path, depth+1, entries, plMap, skipLen); werr != nil {
						return werr
					}
				}
			}
			first = false
			pos += recLen
		}
	}
	return nil
}

// relocate applies the CL/PL directory-relocation trio: every entry whose
// Rock Ridge record carries CL is a placeholder at the directory's
// original location; its target (found by extent in entries) is grafted
// onto the placeholder's path, and plMap[target.extent] is checked against
// the placeholder's own parent extent to catch a mismatched CL/PL pair.
func relocate(entries []dirEntry, plMap map[uint32]uint32) *errtax.Error {
	byExtent := make(map[uint32]int)
	for i, e := range entries {
		if e.isDir {
			byExtent[e.extent] = i
		}
	}
	for i := range entries {
		if !entries[i].rr.hasCL {
			continue
		}
		targetIdx, ok := byExtent[entries[i].rr.clExtent]
		if !ok {
			return errtax.BadStructuref(0, "iso9660: CL entry references unknown extent %d", entries[i].rr.clExtent)
		}
		origParent, ok := plMap[entries[targetIdx].extent]
		if !ok || origParent != entries[i].parentExtent {
			return errtax.BadStructuref(0, "iso9660: CL/PL extent pair mismatch for extent %d", entries[i].rr.clExtent)
		}
		oldPrefix := entries[targetIdx].path
		newPrefix := entries[i].path
		for j := range entries {
			if entries[j].path == oldPrefix {
				entries[j].path = newPrefix
			} else if strings.HasPrefix(entries[j].path, oldPrefix+"/") {
				entries[j].path = newPrefix + strings.TrimPrefix(entries[j].path, oldPrefix)
			}
		}
		entries[i].skip = true
	}
	return nil
}

// nextSUSPEntry splits one {signature, length-byte, version-byte, data}
// System Use field off the front of cur.
func nextSUSPEntry(cur []byte) (sig string, data, rest []byte, ok bool) {
	if len(cur) < 4 {
		return "", nil, nil, false
	}
	entryLen := int(cur[2])
	if entryLen < 4 || entryLen > len(cur) {
		return "", nil, nil, false
	}
	return string(cur[0:2]), cur[4:entryLen], cur[entryLen:], true
}

// parseSUSP walks a directory record's System Use field, following CE
// continuation entries into other blocks of the volume as needed
// (spec.md §4.7's "ISO SUSP parsing" state machine).
func parseSUSP(region carver.Region, base, filesize int64, su []byte, skip int) (rrInfo, *errtax.Error) {
	var info rrInfo
	cur := su
	if skip > 0 && skip <= len(cur) {
		cur = cur[skip:]
	}
	var nameParts []byte
	var slParts strings.Builder
	for {
		if len(cur) == 0 {
			break
		}
		sig, data, rest, ok := nextSUSPEntry(cur)
		if !ok {
			break
		}
		switch sig {
		case "SP":
			if len(data) >= 3 && data[0] == 0xBE && data[1] == 0xEF {
				info.hasSP = true
				info.spSkip = int(data[2])
			}
		case "NM":
			if len(data) >= 1 {
				flags := data[0]
				nameParts = append(nameParts, data[1:]...)
				info.hasName = true
				// Flag bit 0x02 renames this record "." (current directory),
				// bit 0x04 renames it ".." (parent directory) — the two
				// bits design note/Open-Question decision 5 calls out
				// (spec.md's source under review swapped them under a typo'd
				// identifier; both are honored here on their documented bit).
				if flags&0x02 != 0 {
					nameParts = []byte(".")
				} else if flags&0x04 != 0 {
					nameParts = []byte("..")
				}
			}
		case "SL":
			if len(data) >= 1 {
				comps := data[1:]
				for len(comps) >= 2 {
					cflags := comps[0]
					clen := int(comps[1])
					if 2+clen > len(comps) {
						break
					}
					content := comps[2 : 2+clen]
					switch {
					case cflags&0x08 != 0:
						slParts.WriteString("/")
					case cflags&0x04 != 0:
						slParts.WriteString("..")
					case cflags&0x02 != 0:
						slParts.WriteString(".")
					default:
						slParts.Write(content)
					}
					comps = comps[2+clen:]
					if len(comps) > 0 && cflags&0x01 == 0 {
						slParts.WriteString("/")
					}
				}
				info.isSymlink = true
			}
		case "CL":
			if len(data) >= 4 {
				info.hasCL = true
				info.clExtent = binary.LittleEndian.Uint32(data[0:4])
			}
		case "PL":
			if len(data) >= 4 {
				info.hasPL = true
				info.plExtent = binary.LittleEndian.Uint32(data[0:4])
			}
		case "RE":
			info.hasRE = true
		case "ZF":
			info.hasZF = true
		case "PX", "TF", "PD", "PN", "SF", "RR":
			// Recognized, not further interpreted by this parser.
		case "CE":
			if len(data) >= 20 {
				blockLoc := binary.LittleEndian.Uint32(data[0:4])
				ceOffset := binary.LittleEndian.Uint32(data[8:12])
				ceLen := binary.LittleEndian.Uint32(data[16:20])
				abs := base + int64(blockLoc)*2048 + int64(ceOffset)
				if abs+int64(ceLen) <= filesize {
					more, err := readAt(region, abs, int(ceLen))
					if err != nil {
						return info, err
					}
					rest = append(append([]byte{}, more...), rest...)
				}
			}
		}
		cur = rest
	}
	if info.hasName {
		info.name = string(nameParts)
	}
	if info.isSymlink {
		info.symlinkTarget = slParts.String()
	}
	return info, nil
}

// readFileContent reads a non-directory entry's raw bytes, decompressing
// through zisofs when its Rock Ridge record carries ZF, or returning the
// accumulated symlink target as its "content" otherwise.
func readFileContent(region carver.Region, base, filesize, blockSize int64, e dirEntry) ([]byte, *errtax.Error) {
	if e.rr.isSymlink {
		return []byte(e.rr.symlinkTarget), nil
	}
	abs := base + int64(e.extent)*blockSize
	raw, err := readAt(region, abs, int(e.dataLen))
	if err != nil {
		return nil, err
	}
	if !e.rr.hasZF {
		return raw, nil
	}
	return decompressZisofs(raw)
}

// decompressZisofs decodes a zisofs-compressed file body: an 8-byte magic,
// u32 uncompressed size, header-size/4 and log2(block-size) bytes, two
// reserved NUL bytes, then one u32 block pointer per block plus a
// terminating pointer; equal consecutive pointers mark an all-zero block
// (spec.md §4.5, GLOSSARY "Zisofs").
func decompressZisofs(raw []byte) ([]byte, *errtax.Error) {
	if len(raw) < 16 || !bytes.Equal(raw[0:8], zisofsMagic) {
		return nil, errtax.BadMagicf(0, "iso9660: zisofs magic mismatch")
	}
	uncompressedSize := binary.LittleEndian.Uint32(raw[8:12])
	headerSize := int(raw[12]) * 4
	log2Block := raw[13]
	blockSize := uint32(1) << log2Block
	if headerSize < 16 || headerSize > len(raw) {
		return nil, errtax.BadFieldf(0, "iso9660: zisofs header size %d invalid", headerSize)
	}
	numBlocks := int((uncompressedSize + blockSize - 1) / blockSize)
	ptrBytes := raw[headerSize:]
	if len(ptrBytes) < 4*(numBlocks+1) {
		return nil, errtax.NotEnoughDataf(0, "iso9660: zisofs block pointer table truncated")
	}
	ptrs := make([]uint32, numBlocks+1)
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(ptrBytes[i*4 : i*4+4])
	}

	out := make([]byte, 0, uncompressedSize)
	for i := 0; i < numBlocks; i++ {
		start, end := ptrs[i], ptrs[i+1]
		remain := int(uncompressedSize) - len(out)
		want := int(blockSize)
		if remain < want {
			want = remain
		}
		if end == start {
			out = append(out, make([]byte, want)...)
			continue
		}
		if int(end) > len(raw) || end < start {
			return nil, errtax.BadStructuref(0, "iso9660: zisofs block pointer out of range")
		}
		st, err := xfmt.Open(xfmt.Zlib, nil)
		if err != nil {
			return nil, errtax.Wrap(errtax.BadField, 0, err, "iso9660: opening zlib adapter")
		}
		decoded, derr := st.Feed(raw[start:end])
		if derr != nil {
			return nil, errtax.Wrap(errtax.BadStructure, 0, derr, "iso9660: zisofs block decode")
		}
		out = append(out, decoded...)
	}
	return out, nil
}
