// Package minix implements the Minix v1 filesystem parser (spec.md
// §4.5, "Minix v1 (Linux '1L' variant)"): boot block + superblock
// validation, then bitmap-driven inode iteration rather than a blind
// walk of the inode table, since an inode slot that isn't marked
// allocated in the inode bitmap is exactly the kind of dangling entry
// REDESIGN FLAGS calls out as a false-positive source.
//
// Grounded on parser/filesystem/ext2's superblock-plus-bitmap shape
// (both are classic Unix block filesystems with a fixed-size
// superblock followed by bitmap blocks), generalized here to a fully
// native Go directory walk instead of ext2's external-tool gateway,
// since no tool in internal/extool covers Minix.
package minix

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
	formatName = "minix"
	blockSize  = 1024
	inodeSize  = 32
	dirEntSize = 32
	magicV1L   = 0x138F // Minix V1, 30-char names ("1L" in file(1)'s magic database)

	sIFMT  = 0xF000
	sIFDIR = 0x4000
	sIFREG = 0x8000
	sIFLNK = 0xA000

	rootInode = 1
)

// Parser implements carver.Parser for Minix v1 filesystem images.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"minix", "img"} }
func (Parser) Signatures() [][]byte { return nil } // magic sits at byte 1024+16, not file offset 0
func (Parser) PrettyName() string   { return "Minix v1 filesystem image" }

type superblock struct {
	ninodes       uint16
	nzones        uint16
	imapBlocks    uint16
	zmapBlocks    uint16
	firstDataZone uint16
	logZoneSize   uint16
	maxSize       uint32
	magic         uint16
}

type inode struct {
	mode   uint16
	size   uint32
	zones  [9]uint16
}

type walker struct {
	region     carver.Region
	base       int64 // absolute byte offset of the filesystem's block 0
	filesize   int64
	sb         superblock
	imap       []byte
	inodeBase  int64 // absolute byte offset of the inode table
	zoneSize   int64
	visited    map[uint32]bool
	env        scanenv.Environment
	artifacts  []carver.Artifact
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 2*blockSize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "minix: region too small for boot block and superblock"))
	}
	c := bcursor.New(region, offset+blockSize, blockSize)

	var sb superblock
	var err *errtax.Error
	if sb.ninodes, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if sb.nzones, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if sb.imapBlocks, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if sb.zmapBlocks, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if sb.firstDataZone, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if sb.logZoneSize, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if sb.maxSize, err = c.U32LE(); err != nil {
		return carver.FromError(err)
	}
	if sb.magic, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if sb.magic != magicV1L {
		return carver.FromError(errtax.BadMagicf(offset, "minix: magic 0x%04x, want 0x%04x", sb.magic, magicV1L))
	}

	inodeBlocks := (int64(sb.ninodes)*inodeSize + blockSize - 1) / blockSize
	firstFreeBlock := 2 + int64(sb.imapBlocks) + int64(sb.zmapBlocks) + inodeBlocks
	if int64(sb.firstDataZone) < firstFreeBlock {
		return carver.FromError(errtax.BadFieldf(offset, "minix: first data zone %d overlaps inode table (needs >= %d)", sb.firstDataZone, firstFreeBlock))
	}
	zoneSize := int64(blockSize) << sb.logZoneSize
	if int64(sb.nzones)*zoneSize > filesize-offset+zoneSize {
		return carver.FromError(errtax.BadFieldf(offset, "minix: zone count %d exceeds region", sb.nzones))
	}

	imapStart := offset + 2*blockSize
	imapLen := int64(sb.imapBlocks) * blockSize
	if imapStart+imapLen > filesize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "minix: inode bitmap extends past region"))
	}
	imap := make([]byte, imapLen)
	if _, rerr := region.ReadAt(imap, imapStart); rerr != nil {
		return carver.FromError(errtax.IOf(offset, rerr, "minix: reading inode bitmap"))
	}

	w := &walker{
		region:    region,
		base:      offset,
		filesize:  filesize,
		sb:        sb,
		imap:      imap,
		inodeBase: offset + (2+int64(sb.imapBlocks)+int64(sb.zmapBlocks))*blockSize,
		zoneSize:  zoneSize,
		visited:   make(map[uint32]bool),
		env:       env,
	}

	root, ierr := w.readInode(rootInode)
	if ierr != nil {
		return carver.FromError(ierr)
	}
	if root.mode&sIFMT != sIFDIR {
		return carver.FromError(errtax.BadStructuref(offset, "minix: root inode is not a directory"))
	}
	if werr := w.walkDir(root, ""); werr != nil {
		return carver.FromError(werr)
	}

	length := int64(sb.nzones) * zoneSize
	if length > filesize-offset {
		length = filesize - offset
	}
	labels := label.NewSet(formatName, label.Filesystem)
	return carver.Succeed(length, labels, w.artifacts, map[string]any{
		"inode_count": sb.ninodes,
		"zone_count":  sb.nzones,
	})
}

func (w *walker) isAllocated(ino uint32) bool {
	if ino == 0 || ino > uint32(w.sb.ninodes) {
		return false
	}
	byteIdx := ino / 8
	if int(byteIdx) >= len(w.imap) {
		return false
	}
	return w.imap[byteIdx]&(1<<(ino%8)) != 0
}

func (w *walker) readInode(ino uint32) (inode, *errtax.Error) {
	if !w.isAllocated(ino) {
		return inode{}, errtax.BadStructuref(w.base, "minix: inode %d not marked allocated in bitmap", ino)
	}
	off := w.inodeBase + int64(ino-1)*inodeSize
	c := bcursor.New(w.region, off, inodeSize)
	var in inode
	var err *errtax.Error
	if in.mode, err = c.U16LE(); err != nil {
		return inode{}, err
	}
	if err = c.Advance(2); err != nil { // uid
		return inode{}, err
	}
	if in.size, err = c.U32LE(); err != nil {
		return inode{}, err
	}
	if err = c.Advance(6); err != nil { // time, gid, nlinks
		return inode{}, err
	}
	for i := range in.zones {
		if in.zones[i], err = c.U16LE(); err != nil {
			return inode{}, err
		}
	}
	return in, nil
}

// dataZones returns, in file order, every zone number backing the
// inode's content — the 7 direct zones, then the 512 zones reachable
// through the single indirect zone, then the zones reachable through
// the double indirect zone's own indirect zones. Hole zones (0) are
// skipped.
func (w *walker) dataZones(in inode) ([]uint32, *errtax.Error) {
	var zones []uint32
	for i := 0; i < 7; i++ {
		if in.zones[i] != 0 {
			zones = append(zones, uint32(in.zones[i]))
		}
	}
	if in.zones[7] != 0 {
		indirect, err := w.readIndirect(uint32(in.zones[7]))
		if err != nil {
			return nil, err
		}
		zones = append(zones, indirect...)
	}
	if in.zones[8] != 0 {
		outer, err := w.readIndirect(uint32(in.zones[8]))
		if err != nil {
			return nil, err
		}
		for _, z := range outer {
			inner, err := w.readIndirect(z)
			if err != nil {
				return nil, err
			}
			zones = append(zones, inner...)
		}
	}
	return zones, nil
}

func (w *walker) readIndirect(zone uint32) ([]uint32, *errtax.Error) {
	buf, err := w.readZone(zone, int(w.zoneSize))
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, len(buf)/2)
	for i := 0; i+1 < len(buf); i += 2 {
		z := uint32(buf[i]) | uint32(buf[i+1])<<8
		if z != 0 {
			out = append(out, z)
		}
	}
	return out, nil
}

func (w *walker) readZone(zone uint32, n int) ([]byte, *errtax.Error) {
	abs := w.base + int64(zone)*w.zoneSize
	if abs+int64(n) > w.filesize {
		return nil, errtax.NotEnoughDataf(w.base, "minix: zone %d extends past region", zone)
	}
	buf := make([]byte, n)
	if _, rerr := w.region.ReadAt(buf, abs); rerr != nil {
		return nil, errtax.IOf(w.base, rerr, "minix: reading zone %d", zone)
	}
	return buf, nil
}

func (w *walker) readContent(in inode) ([]byte, *errtax.Error) {
	zones, err := w.dataZones(in)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, in.size)
	for _, z := range zones {
		if int64(len(out)) >= int64(in.size) {
			break
		}
		buf, err := w.readZone(z, int(w.zoneSize))
		if err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	if int64(len(out)) > int64(in.size) {
		out = out[:in.size]
	}
	return out, nil
}

func (w *walker) walkDir(dir inode, prefix string) *errtax.Error {
	zones, err := w.dataZones(dir)
	if err != nil {
		return err
	}
	type entry struct {
		ino  uint32
		name string
	}
	var entries []entry
	for _, z := range zones {
		buf, err := w.readZone(z, int(w.zoneSize))
		if err != nil {
			return err
		}
		for off := 0; off+dirEntSize <= len(buf); off += dirEntSize {
			rec := buf[off : off+dirEntSize]
			ino := uint32(rec[0]) | uint32(rec[1])<<8
			if ino == 0 {
				continue
			}
			name := cstring(rec[2:])
			if name == "." || name == ".." || name == "" {
				continue
			}
			entries = append(entries, entry{ino, name})
		}
	}

	for _, e := range entries {
		if w.visited[e.ino] {
			continue // cycle guard: a directory entry pointing back at an ancestor
		}
		w.visited[e.ino] = true

		child, ierr := w.readInode(e.ino)
		if ierr != nil {
			continue // bitmap already rejected this inode; skip rather than fail the whole carve
		}
		rel, ok := pathname.Contain(prefix + "/" + e.name)
		if !ok {
			continue
		}
		switch child.mode & sIFMT {
		case sIFDIR:
			if err := w.walkDir(child, rel); err != nil {
				return err
			}
		case sIFLNK:
			target, cerr := w.readContent(child)
			if cerr != nil {
				continue
			}
			if werr := carveio.WriteFile(w.env.UnpackPath(rel), target); werr != nil {
				return werr
			}
			w.artifacts = append(w.artifacts, carver.Artifact{RelPath: rel, Labels: label.NewSet(label.Unpacked)})
		case sIFREG:
			content, cerr := w.readContent(child)
			if cerr != nil {
				continue
			}
			if werr := carveio.WriteFile(w.env.UnpackPath(rel), content); werr != nil {
				return werr
			}
			w.artifacts = append(w.artifacts, carver.Artifact{RelPath: rel, Labels: label.NewSet(label.Unpacked)})
		}
	}
	return nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
