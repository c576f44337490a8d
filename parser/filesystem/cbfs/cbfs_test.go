package cbfs

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

func writeComponent(buf []byte, pos int, name string, data []byte) int {
	nameField := roundUpNameLen(len(name) + 1)
	dataOffset := fixedHdrLen + nameField
	copy(buf[pos:], componentMagic)
	putU32BE(buf, pos+8, uint32(len(data)))
	putU32BE(buf, pos+12, 0) // type, unused
	putU32BE(buf, pos+16, 0) // checksum, unused
	putU32BE(buf, pos+20, uint32(dataOffset))
	copy(buf[pos+fixedHdrLen:], name)
	copy(buf[pos+dataOffset:], data)
	return pos + int(roundUp(int64(dataOffset+len(data)), alignment))
}

func roundUpNameLen(n int) int { return int(roundUp(int64(n), alignment)) - fixedHdrLen }

// buildFixture writes a master header component followed by one
// payload component named "bootblock.bin".
func buildFixture(t *testing.T) []byte {
	t.Helper()
	headerData := make([]byte, 24)
	copy(headerData, headerMagic)
	putU32BE(headerData, 4, 1)        // version
	putU32BE(headerData, 8, 0x100000) // rom size
	putU32BE(headerData, 12, 0x1000)  // boot block size
	putU32BE(headerData, 16, alignment)
	putU32BE(headerData, 20, 0x40) // first block offset

	payload := []byte("bootblock contents")

	buf := make([]byte, 4096)
	pos := writeComponent(buf, 0, "header", headerData)
	pos = writeComponent(buf, pos, "bootblock.bin", payload)
	return buf[:pos]
}

func TestCBFSWellFormed(t *testing.T) {
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

func TestCBFSMissingHeader(t *testing.T) {
	payload := []byte("lone component")
	buf := make([]byte, 256)
	writeComponent(buf, 0, "lone.bin", payload)
	r := bytes.NewReader(buf)
	res := Parser{}.Parse(context.Background(), r, int64(len(buf)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if res.Ok() {
		t.Fatalf("expected failure when no ORBC master header is present")
	}
}

func TestCBFSBadAlignment(t *testing.T) {
	data := buildFixture(t)
	// corrupt the master header's declared alignment field (at the
	// header component's data offset + 16).
	putU32BE(data, fixedHdrLen+roundUpNameLen(len("header")+1)+16, 32)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on non-64 master header alignment")
	}
}
