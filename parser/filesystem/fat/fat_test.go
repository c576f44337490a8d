package fat

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func putU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

// buildFixture constructs a tiny FAT12 image: 512-byte sectors, 1
// sector/cluster, 1 FAT, 16 root entries, one regular file "HELLO.TXT"
// in the root directory occupying cluster 2.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	const bytesPerSector = 512
	const sectorsPerCluster = 1
	const reservedSectors = 1
	const numFATs = 1
	const rootEntryCount = 16
	const sectorsPerFAT = 1

	rootDirSectors := (rootEntryCount*32 + bytesPerSector - 1) / bytesPerSector
	dataStartSector := reservedSectors + numFATs*sectorsPerFAT + rootDirSectors
	totalSectors := dataStartSector + 4

	buf := make([]byte, totalSectors*bytesPerSector)
	putU16(buf, 11, bytesPerSector)
	buf[13] = sectorsPerCluster
	putU16(buf, 14, reservedSectors)
	buf[16] = numFATs
	putU16(buf, 17, rootEntryCount)
	putU16(buf, 19, uint16(totalSectors))
	buf[21] = mediaDescriptor
	putU16(buf, 22, sectorsPerFAT)
	copy(buf[54:], "FAT12   ")

	fatOff := reservedSectors * bytesPerSector
	buf[fatOff] = mediaDescriptor
	buf[fatOff+1] = 0xFF
	// cluster 2 (file's only cluster) marked end-of-chain.
	buf[fatOff+3] = 0xFF
	buf[fatOff+4] = 0xFF

	rootDirOff := fatOff + numFATs*sectorsPerFAT*bytesPerSector
	entry := buf[rootDirOff : rootDirOff+32]
	copy(entry[0:8], "HELLO   ")
	copy(entry[8:11], "TXT")
	entry[11] = 0x20 // archive
	putU16(entry, 26, 2)
	content := []byte("hello from fat12")
	putU32(entry, 28, uint32(len(content)))

	dataOff := dataStartSector * bytesPerSector
	copy(buf[dataOff:], content)

	return buf
}

func TestFATWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(res.Artifacts))
	}
}

func TestFATBadMediaDescriptor(t *testing.T) {
	data := buildFixture(t)
	data[21] = 0xF0
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unsupported media descriptor")
	}
}

func TestFATBadSectorsPerCluster(t *testing.T) {
	data := buildFixture(t)
	data[13] = 3 // not a power-of-two cluster size
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on invalid sectors/cluster")
	}
}
