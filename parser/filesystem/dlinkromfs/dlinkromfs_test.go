package dlinkromfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func writeEntry(buf []byte, pos int, entryType, size, bodyOffset uint32, uid uint32) {
	putU32(buf, pos, entryType)
	// 8 skipped bytes at pos+4
	putU32(buf, pos+12, size)
	// 4 skipped bytes at pos+16
	putU32(buf, pos+20, bodyOffset)
	// 4 skipped bytes at pos+24
	copy(buf[pos+28:], []byte(uidString(uid)))
}

func uidString(uid uint32) string {
	s := []byte{'0', '0', '0', '0'}
	digits := []byte(itoa(uid))
	copy(s[4-len(digits):], digits)
	return string(s)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// buildFixture lays out: superblock, a root directory entry (uid 0)
// listing one file "data.bin" (uid 1), and that file's data body.
func buildFixture(t *testing.T) []byte {
	t.Helper()

	dirBody := make([]byte, 32) // one 32-byte-aligned (uid, skip, name) record
	putU32(dirBody, 0, 1)       // child uid "0001"
	copy(dirBody[8:], "data.bin")

	content := []byte("plain uncompressed body")

	metaStart := superblockLen
	rootEntryOff := metaStart
	fileEntryOff := rootEntryOff + entryHeaderLen

	dirBodyOff := fileEntryOff + entryHeaderLen
	fileBodyOff := dirBodyOff + len(dirBody)
	total := fileBodyOff + len(content)

	buf := make([]byte, total)
	copy(buf, magic)

	writeEntry(buf, rootEntryOff, typeDir, uint32(len(dirBody)), uint32(dirBodyOff), 0)
	writeEntry(buf, fileEntryOff, typeData, uint32(len(content)), uint32(fileBodyOff), 1)
	copy(buf[dirBodyOff:], dirBody)
	copy(buf[fileBodyOff:], content)

	return buf
}

func TestDLinkROMFSWellFormed(t *testing.T) {
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

func TestDLinkROMFSBadMagic(t *testing.T) {
	data := buildFixture(t)
	copy(data[:4], "xxxx")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}
