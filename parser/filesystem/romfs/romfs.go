// Package romfs implements the Linux RomFS parser (spec.md §4.5,
// "RomFS (Linux)"): a big-endian, checksum-guarded header followed by
// a linked chain of 16-byte-aligned file headers, each carrying its
// own next-header offset instead of a central directory.
//
// Grounded on parser/filesystem/minix's bitmap/inode-table walk for the
// overall "validate superblock, then recurse a native directory tree"
// shape; romfs has no inode table or allocation bitmap of its own, so
// the recursion here follows next-header offsets directly the way
// parser/android/vendorboot follows a flat name/offset/size table.
package romfs

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

const (
	formatName = "romfs"
	magic      = "-rom1fs-"
	alignment  = 16
	lengthRound = 1024
)

const (
	modeHardlink = 0
	modeDir      = 1
	modeFile     = 2
	modeSymlink  = 3
	modeBlockdev = 4
	modeChardev  = 5
	modeSocket   = 6
	modeFifo     = 7
)

// Parser implements carver.Parser for Linux RomFS images.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"romfs", "img"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte(magic)} }
func (Parser) PrettyName() string   { return "Linux RomFS image" }

type walker struct {
	region    carver.Region
	base      int64
	filesize  int64
	env       scanenv.Environment
	artifacts []carver.Artifact
	visited   map[int64]bool
}

func roundUp(n, to int64) int64 { return (n + to - 1) / to * to }

// nameCap bounds a CString read to a sane maximum (romfs names are
// conventionally short) without reading the rest of the region.
func nameCap(remaining int64) int {
	const maxName = 256
	if remaining < maxName {
		return int(remaining)
	}
	return maxName
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 16 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "romfs: region too small for superblock"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.MagicString(magic); err != nil {
		return carver.FromError(err)
	}
	romSize, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U32BE(); err != nil { // checksum, validated separately below
		return carver.FromError(err)
	}
	if int64(romSize) > filesize-offset {
		return carver.FromError(errtax.BadFieldf(offset, "romfs: declared size %d exceeds region", romSize))
	}

	checksumLen := int64(romSize)
	if checksumLen > 512 {
		checksumLen = 512
	}
	if werr := verifyChecksum(region, offset, checksumLen); werr != nil {
		return carver.FromError(werr)
	}

	name, err := c.CString(nameCap(filesize - offset - 16))
	if err != nil {
		return carver.FromError(err)
	}
	rootOff := offset + roundUp(16+int64(len(name))+1, alignment)

	w := &walker{region: region, base: offset, filesize: filesize, env: env, visited: make(map[int64]bool)}
	root, rerr := w.readHeader(rootOff)
	if rerr != nil {
		return carver.FromError(rerr)
	}
	if root.mode != modeDir {
		return carver.FromError(errtax.BadStructuref(offset, "romfs: root entry is not a directory"))
	}
	if werr := w.walkDir(root.specInfo); werr != nil {
		return carver.FromError(werr)
	}

	length := roundUp(int64(romSize), lengthRound)
	if length > filesize-offset {
		length = filesize - offset
	}
	labels := label.NewSet(formatName, label.Filesystem)
	return carver.Succeed(length, labels, w.artifacts, map[string]any{"volume_name": name, "rom_size": romSize})
}

// verifyChecksum sums checksumLen/4 big-endian u32 words and requires
// the total to wrap to zero, the standard romfs integrity check.
func verifyChecksum(region carver.Region, base, checksumLen int64) *errtax.Error {
	buf := make([]byte, checksumLen)
	if _, err := region.ReadAt(buf, base); err != nil {
		return errtax.IOf(base, err, "romfs: reading checksum region")
	}
	var sum uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		sum += uint32(buf[i])<<24 | uint32(buf[i+1])<<16 | uint32(buf[i+2])<<8 | uint32(buf[i+3])
	}
	if sum != 0 {
		return errtax.BadChecksumf(base, "romfs: header checksum does not sum to zero")
	}
	return nil
}

type header struct {
	next     int64 // absolute offset of next header in this directory, or 0
	mode     int
	exec     bool
	specInfo uint32
	size     uint32
	name     string
	dataOff  int64
}

func (w *walker) readHeader(abs int64) (header, *errtax.Error) {
	if abs < w.base || abs+16 > w.filesize {
		return header{}, errtax.NotEnoughDataf(w.base, "romfs: file header at %d out of range", abs)
	}
	c := bcursor.New(w.region, abs, w.filesize-abs)
	word0, err := c.U32BE()
	if err != nil {
		return header{}, err
	}
	specInfo, err := c.U32BE()
	if err != nil {
		return header{}, err
	}
	size, err := c.U32BE()
	if err != nil {
		return header{}, err
	}
	if _, err := c.U32BE(); err != nil { // per-header checksum, not independently verified
		return header{}, err
	}
	name, err := c.CString(nameCap(w.filesize - abs - 16))
	if err != nil {
		return header{}, err
	}

	nextOff := int64(word0 &^ 0xF)
	low4 := word0 & 0xF
	h := header{
		next:     nextOff,
		mode:     int((low4 >> 1) & 0x7),
		exec:     low4&1 != 0,
		specInfo: specInfo,
		size:     size,
		name:     name,
		dataOff:  abs + roundUp(16+int64(len(name))+1, alignment),
	}
	return h, nil
}

func (w *walker) walkDir(firstChild uint32) *errtax.Error {
	next := int64(firstChild)
	for next != 0 {
		if w.visited[next] {
			break // cycle guard
		}
		w.visited[next] = true

		h, err := w.readHeader(w.base + next)
		if err != nil {
			return err
		}
		if h.name != "" && h.name != "." && h.name != ".." {
			if rel, ok := pathname.Contain(h.name); ok {
				switch h.mode {
				case modeDir:
					if serr := w.walkDir(h.specInfo); serr != nil {
						return serr
					}
				case modeFile:
					if werr := w.carveFile(h, rel); werr != nil {
						return werr
					}
				case modeSymlink:
					if werr := w.carveFile(h, rel); werr != nil {
						return werr
					}
				} // hardlink/blockdev/chardev/socket/fifo carry no independent content to carve
			}
		}

		if h.next == next {
			break // self-referential next pointer marks the last entry
		}
		next = h.next
	}
	return nil
}

func (w *walker) carveFile(h header, rel string) *errtax.Error {
	if h.dataOff+int64(h.size) > w.filesize {
		return errtax.NotEnoughDataf(w.base, "romfs: %q content extends past region", h.name)
	}
	buf := make([]byte, h.size)
	if _, err := w.region.ReadAt(buf, h.dataOff); err != nil {
		return errtax.IOf(w.base, err, "romfs: reading %q", h.name)
	}
	if werr := carveio.WriteFile(w.env.UnpackPath(rel), buf); werr != nil {
		return werr
	}
	w.artifacts = append(w.artifacts, carver.Artifact{RelPath: rel, Labels: label.NewSet(label.Unpacked)})
	return nil
}
