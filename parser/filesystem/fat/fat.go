// Package fat implements the FAT12/16 filesystem parser (spec.md
// §4.5, "FAT12/16"): BIOS parameter block validation, FAT12/16 entry
// decoding, and a native recursive directory walk driven by cluster
// chains rather than any external tool.
//
// Grounded on parser/filesystem/minix's "validate fixed header, then
// recurse a native directory tree" shape; FAT's cluster-chain-addressed
// directories generalize minix's zone-addressed ones the same way
// parser/filesystem/romfs's next-header chain does.
package fat

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
	formatName    = "fat"
	mediaDescriptor = 0xF8

	attrReadOnly = 0x01
	attrHidden   = 0x02
	attrSystem   = 0x04
	attrVolumeID = 0x08
	attrDir      = 0x10
	attrArchive  = 0x20
	attrLFN      = 0x0F
)

// Parser implements carver.Parser for FAT12/16 filesystem images.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"img", "dsk"} }
func (Parser) Signatures() [][]byte { return nil } // no fixed leading magic; the BIOS jump field varies
func (Parser) PrettyName() string   { return "FAT12/16 filesystem image" }

type bpb struct {
	bytesPerSector   uint16
	sectorsPerCluster uint8
	reservedSectors  uint16
	numFATs          uint8
	rootEntryCount   uint16
	totalSectors     uint32
	media            uint8
	sectorsPerFAT    uint16
	fsType           string
}

func isPowerOfTwo(n uint16) bool { return n != 0 && n&(n-1) == 0 }

func validSectorsPerCluster(n uint8) bool {
	switch n {
	case 1, 2, 4, 8, 16, 32, 64, 128:
		return true
	}
	return false
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 512 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "fat: region too small for boot sector"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Advance(11); err != nil { // jump instruction + OEM name
		return carver.FromError(err)
	}

	var b bpb
	var err *errtax.Error
	if b.bytesPerSector, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if !isPowerOfTwo(b.bytesPerSector) || b.bytesPerSector < 32 {
		return carver.FromError(errtax.BadFieldf(offset, "fat: bytes/sector %d is not a power of two >= 32", b.bytesPerSector))
	}
	if b.sectorsPerCluster, err = c.U8(); err != nil {
		return carver.FromError(err)
	}
	if !validSectorsPerCluster(b.sectorsPerCluster) {
		return carver.FromError(errtax.BadFieldf(offset, "fat: sectors/cluster %d outside {1,2,4,8,16,32,64,128}", b.sectorsPerCluster))
	}
	if b.reservedSectors, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if b.numFATs, err = c.U8(); err != nil {
		return carver.FromError(err)
	}
	if b.rootEntryCount, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	totalSectors16, err := c.U16LE()
	if err != nil {
		return carver.FromError(err)
	}
	if b.media, err = c.U8(); err != nil {
		return carver.FromError(err)
	}
	if b.media != mediaDescriptor {
		return carver.FromError(errtax.BadFieldf(offset, "fat: media descriptor 0x%02x, only 0xF8 supported", b.media))
	}
	if b.sectorsPerFAT, err = c.U16LE(); err != nil {
		return carver.FromError(err)
	}
	if err := c.Advance(8); err != nil { // sectors/track, heads, hidden sectors
		return carver.FromError(err)
	}
	totalSectors32, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	b.totalSectors = uint32(totalSectors16)
	if b.totalSectors == 0 {
		b.totalSectors = totalSectors32
	}
	if b.sectorsPerFAT == 0 || b.numFATs == 0 {
		return carver.FromError(errtax.BadFieldf(offset, "fat: sectors/FAT or FAT count is zero"))
	}

	c.Seek(offset + 54)
	if fsType, err := c.FixedString(8); err == nil {
		b.fsType = fsType
	}

	fatRegionOff := offset + int64(b.reservedSectors)*int64(b.bytesPerSector)
	fatBytes := make([]byte, 2)
	if _, rerr := region.ReadAt(fatBytes, fatRegionOff); rerr != nil {
		return carver.FromError(errtax.IOf(offset, rerr, "fat: reading FAT media byte"))
	}
	if fatBytes[0] != b.media {
		return carver.FromError(errtax.BadFieldf(offset, "fat: first FAT byte 0x%02x does not match media descriptor 0x%02x", fatBytes[0], b.media))
	}

	rootDirOff := fatRegionOff + int64(b.numFATs)*int64(b.sectorsPerFAT)*int64(b.bytesPerSector)
	rootDirBytes := int64(b.rootEntryCount) * 32
	rootDirSectors := (rootDirBytes + int64(b.bytesPerSector) - 1) / int64(b.bytesPerSector)
	dataRegionOff := rootDirOff + rootDirSectors*int64(b.bytesPerSector)

	dataSectors := int64(b.totalSectors) - (dataRegionOff-offset)/int64(b.bytesPerSector)
	clusterCount := dataSectors / int64(b.sectorsPerCluster)

	is16 := clusterCount >= 4085
	if is16 && len(b.fsType) >= 5 && b.fsType[:5] == "FAT12" {
		is16 = false // trust the explicit fs-type string over the cluster-count heuristic when present
	} else if !is16 && len(b.fsType) >= 5 && b.fsType[:5] == "FAT16" {
		is16 = true
	}

	w := &walker{
		region:        region,
		base:          offset,
		filesize:      filesize,
		bytesPerSector: int64(b.bytesPerSector),
		sectorsPerCluster: int64(b.sectorsPerCluster),
		fatOff:        fatRegionOff,
		fatLen:        int64(b.sectorsPerFAT) * int64(b.bytesPerSector),
		dataOff:       dataRegionOff,
		is16:          is16,
		env:           env,
		visited:       make(map[uint32]bool),
	}

	if werr := w.walkRootDir(rootDirOff, rootDirBytes); werr != nil {
		return carver.FromError(werr)
	}

	length := int64(b.totalSectors) * int64(b.bytesPerSector)
	if length <= 0 || length > filesize-offset {
		length = filesize - offset
	}
	labels := label.NewSet(formatName, label.Filesystem)
	meta := map[string]any{"fs_type": b.fsType, "cluster_count": clusterCount}
	if is16 {
		meta["variant"] = "FAT16"
	} else {
		meta["variant"] = "FAT12"
	}
	return carver.Succeed(length, labels, w.artifacts, meta)
}

type walker struct {
	region            carver.Region
	base              int64
	filesize          int64
	bytesPerSector    int64
	sectorsPerCluster int64
	fatOff            int64
	fatLen            int64
	dataOff           int64
	is16              bool
	env               scanenv.Environment
	artifacts         []carver.Artifact
	visited           map[uint32]bool
}

const (
	fat12EOC  = 0xFF8
	fat12Bad  = 0xFF7
	fat16EOC  = 0xFFF8
	fat16Bad  = 0xFFF7
)

func (w *walker) fatEntry(cluster uint32) (uint32, bool) {
	if w.is16 {
		idx := w.fatOff + int64(cluster)*2
		if idx+2 > w.filesize {
			return 0, false
		}
		buf := make([]byte, 2)
		if _, err := w.region.ReadAt(buf, idx); err != nil {
			return 0, false
		}
		return uint32(buf[0]) | uint32(buf[1])<<8, true
	}
	idx := w.fatOff + int64(cluster)*3/2
	if idx+2 > w.filesize {
		return 0, false
	}
	buf := make([]byte, 2)
	if _, err := w.region.ReadAt(buf, idx); err != nil {
		return 0, false
	}
	v := uint32(buf[0]) | uint32(buf[1])<<8
	if cluster%2 == 0 {
		return v & 0x0FFF, true
	}
	return v >> 4, true
}

func (w *walker) isEndOfChain(v uint32) bool {
	if w.is16 {
		return v >= fat16EOC
	}
	return v >= fat12EOC
}

func (w *walker) isBadCluster(v uint32) bool {
	if w.is16 {
		return v == fat16Bad
	}
	return v == fat12Bad
}

// clusterChain follows the FAT starting at the given cluster, skipping
// the free (0) and bad-block sentinels spec.md calls out, and stopping
// at the first end-of-chain marker.
func (w *walker) clusterChain(start uint32) []uint32 {
	var chain []uint32
	seen := make(map[uint32]bool)
	cur := start
	for !w.isEndOfChain(cur) {
		if cur == 0 || w.isBadCluster(cur) || seen[cur] {
			break
		}
		seen[cur] = true
		chain = append(chain, cur)
		next, ok := w.fatEntry(cur)
		if !ok {
			break
		}
		cur = next
	}
	return chain
}

func (w *walker) clusterOffset(cluster uint32) int64 {
	return w.dataOff + (int64(cluster)-2)*w.sectorsPerCluster*w.bytesPerSector
}

func (w *walker) readClusters(chain []uint32, size int64) ([]byte, *errtax.Error) {
	out := make([]byte, 0, size)
	clusterBytes := w.sectorsPerCluster * w.bytesPerSector
	for _, cl := range chain {
		if int64(len(out)) >= size {
			break
		}
		off := w.clusterOffset(cl)
		if off+clusterBytes > w.filesize {
			return nil, errtax.NotEnoughDataf(w.base, "fat: cluster %d extends past region", cl)
		}
		buf := make([]byte, clusterBytes)
		if _, err := w.region.ReadAt(buf, off); err != nil {
			return nil, errtax.IOf(w.base, err, "fat: reading cluster %d", cl)
		}
		out = append(out, buf...)
	}
	if int64(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}

type dirent struct {
	name    string
	attr    uint8
	cluster uint16
	size    uint32
}

func parseDirentBytes(raw []byte) (dirent, bool) {
	first := raw[0]
	if first == 0x00 {
		return dirent{}, false // end of directory
	}
	if first == 0xE5 {
		return dirent{}, true // deleted entry, caller skips
	}
	attr := raw[11]
	if attr == attrLFN {
		return dirent{attr: attr}, true // long-filename stub, caller skips
	}
	nameBytes := make([]byte, 8)
	copy(nameBytes, raw[0:8])
	if first == 0x05 {
		nameBytes[0] = 0xE5
	}
	ext := raw[8:11]
	name := trimSpaces(nameBytes)
	extStr := trimSpaces(ext)
	if extStr != "" {
		name = name + "." + extStr
	}
	cluster := uint16(raw[26]) | uint16(raw[27])<<8
	size := uint32(raw[28]) | uint32(raw[29])<<8 | uint32(raw[30])<<16 | uint32(raw[31])<<24
	return dirent{name: name, attr: attr, cluster: cluster, size: size}, true
}

func trimSpaces(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return string(b[:end])
}

func (w *walker) walkRootDir(off, size int64) *errtax.Error {
	if off+size > w.filesize {
		return errtax.NotEnoughDataf(w.base, "fat: root directory extends past region")
	}
	buf := make([]byte, size)
	if _, err := w.region.ReadAt(buf, off); err != nil {
		return errtax.IOf(w.base, err, "fat: reading root directory")
	}
	return w.walkDirBytes(buf, "")
}

func (w *walker) walkDirBytes(buf []byte, prefix string) *errtax.Error {
	for off := 0; off+32 <= len(buf); off += 32 {
		raw := buf[off : off+32]
		d, ok := parseDirentBytes(raw)
		if !ok {
			break // 0x00 marks end of directory
		}
		if d.name == "" || d.name[0] == '.' {
			continue
		}
		if d.attr&attrVolumeID != 0 {
			continue
		}
		rel, ok := pathname.Contain(prefix + "/" + d.name)
		if !ok {
			continue
		}
		if d.attr&attrDir != 0 {
			if w.visited[uint32(d.cluster)] {
				continue
			}
			w.visited[uint32(d.cluster)] = true
			chain := w.clusterChain(uint32(d.cluster))
			sub, err := w.readClusters(chain, int64(len(chain))*w.sectorsPerCluster*w.bytesPerSector)
			if err != nil {
				continue
			}
			if err := w.walkDirBytes(sub, rel); err != nil {
				return err
			}
			continue
		}
		chain := w.clusterChain(uint32(d.cluster))
		content, err := w.readClusters(chain, int64(d.size))
		if err != nil {
			continue
		}
		if werr := carveio.WriteFile(w.env.UnpackPath(rel), content); werr != nil {
			return werr
		}
		w.artifacts = append(w.artifacts, carver.Artifact{RelPath: rel, Labels: label.NewSet(label.Unpacked)})
	}
	return nil
}
