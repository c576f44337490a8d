package romfs

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32BE(b []byte, off int, v uint32) {
	b[off] = byte(v >> 24)
	b[off+1] = byte(v >> 16)
	b[off+2] = byte(v >> 8)
	b[off+3] = byte(v)
}

// buildFixture constructs a minimal romfs image: superblock with an
// empty volume name, a root directory header pointing at one regular
// file header, which carries a small payload.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	const volName = "" // 16-byte header plus the name's NUL rounds up to 32 bytes
	superLen := roundUp(16+int64(len(volName))+1, alignment)
	rootOff := superLen

	content := []byte("romfs file content")
	fileNameLen := int64(len("greeting"))
	rootHdrLen := roundUp(16+1, alignment) // empty root dir name
	fileOff := rootOff + rootHdrLen
	fileHdrLen := roundUp(16+fileNameLen+1, alignment)
	dataOff := fileOff + fileHdrLen
	total := dataOff + roundUp(int64(len(content)), alignment)

	buf := make([]byte, total)
	copy(buf, magic)
	putU32BE(buf, 8, uint32(total)) // rom size
	// checksum field (buf[12:16]) left zero; fixed up below.

	// root directory header: mode=dir, next=0 (only entry), specInfo=fileOff
	putU32BE(buf, int(rootOff), uint32(modeDir<<1)) // next=0, mode=dir
	putU32BE(buf, int(rootOff)+4, uint32(fileOff))  // specInfo = first child
	putU32BE(buf, int(rootOff)+8, 0)                // size
	putU32BE(buf, int(rootOff)+12, 0)                // checksum

	// file header: mode=file, next=self (last entry)
	putU32BE(buf, int(fileOff), uint32(fileOff)|uint32(modeFile<<1))
	putU32BE(buf, int(fileOff)+4, 0) // specInfo must be 0 for files
	putU32BE(buf, int(fileOff)+8, uint32(len(content)))
	putU32BE(buf, int(fileOff)+12, 0)
	copy(buf[int(fileOff)+16:], "greeting")
	copy(buf[dataOff:], content)

	// Fix up the superblock checksum so the first 512 (or fewer) bytes
	// sum to zero as 32-bit big-endian words.
	checksumLen := total
	if checksumLen > 512 {
		checksumLen = 512
	}
	var sum uint32
	for i := int64(0); i+4 <= checksumLen; i += 4 {
		if i == 12 {
			continue // skip the checksum field itself
		}
		sum += uint32(buf[i])<<24 | uint32(buf[i+1])<<16 | uint32(buf[i+2])<<8 | uint32(buf[i+3])
	}
	putU32BE(buf, 12, -sum)

	return buf
}

func TestRomFSWellFormed(t *testing.T) {
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

func TestRomFSBadMagic(t *testing.T) {
	data := buildFixture(t)
	copy(data[:8], "notromfs")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}

func TestRomFSBadChecksum(t *testing.T) {
	data := buildFixture(t)
	data[12] ^= 0xFF
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad checksum")
	}
}
