package sgi

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func putU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// buildFixture writes a minimal verbatim-storage SGI image: 1x1x1,
// 1 byte per pixel channel, producing a single pixel byte of data.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(signature)
	buf.WriteByte(0) // verbatim
	buf.WriteByte(1) // bpc
	buf.Write(putU16(3))
	buf.Write(putU16(1)) // xsize
	buf.Write(putU16(1)) // ysize
	buf.Write(putU16(1)) // zsize
	buf.Write(putU32(0)) // pinmin
	buf.Write(putU32(255)) // pinmax
	buf.Write(make([]byte, 4))  // dummy
	buf.Write(make([]byte, 80)) // image name
	buf.Write(putU32(0))        // colormap
	buf.Write(make([]byte, 404))
	buf.WriteByte(0x42) // one pixel byte
	return buf.Bytes()
}

func TestSGIWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestSGIBadStorageFormat(t *testing.T) {
	data := buildFixture(t)
	data[2] = 9
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unrecognized storage format")
	}
}

func TestSGINonZeroReservedTail(t *testing.T) {
	data := buildFixture(t)
	data[110] = 0xFF
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on non-zero reserved header tail")
	}
}
