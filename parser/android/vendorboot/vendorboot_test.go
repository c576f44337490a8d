package vendorboot

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func buildFixture(t *testing.T, blob []byte) []byte {
	t.Helper()
	const blobOff = 4 + 4 + 32 + 4 + 4
	var buf bytes.Buffer
	buf.Write(magics[2]) // nb0, 4-byte magic
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	name := make([]byte, entryNameLen)
	copy(name, "payload.img")
	buf.Write(name)
	binary.Write(&buf, binary.LittleEndian, uint32(blobOff))
	binary.Write(&buf, binary.LittleEndian, uint32(len(blob)))
	buf.Write(blob)
	return buf.Bytes()
}

func TestVendorBootWellFormed(t *testing.T) {
	data := buildFixture(t, []byte("fake blob contents"))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(res.Artifacts))
	}
}

func TestVendorBootBadMagic(t *testing.T) {
	data := make([]byte, 64)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unrecognized magic")
	}
}
