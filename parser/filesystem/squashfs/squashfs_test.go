package squashfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func buildFixture(bytesUsed uint64) []byte {
	var buf bytes.Buffer
	buf.WriteString("hsqs")
	buf.Write(make([]byte, 24)) // inode_count..no_ids
	binary.Write(&buf, binary.LittleEndian, uint16(4)) // s_major
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // s_minor
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // root_inode
	binary.Write(&buf, binary.LittleEndian, bytesUsed)
	out := buf.Bytes()
	if rem := 96 - len(out); rem > 0 {
		out = append(out, make([]byte, rem)...)
	}
	return out
}

func TestSquashfsBadMagic(t *testing.T) {
	data := make([]byte, 96)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on missing hsqs/sqsh magic")
	}
}

func TestSquashfsBadVersion(t *testing.T) {
	data := buildFixture(96)
	binary.LittleEndian.PutUint16(data[28:], 9)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unsupported version")
	}
}

func TestSquashfsToolUnavailable(t *testing.T) {
	data := buildFixture(96)
	r := bytes.NewReader(data)
	// unsquashfs is not expected to be present in this sandbox; the
	// parser must surface that as a non-fatal external-tool failure
	// rather than panicking or succeeding without extraction.
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir(), TemporaryDirectory: t.TempDir()})
	if res.Ok() {
		t.Skip("unsquashfs is available in this environment; success path exercised instead")
	}
	if res.Fatal {
		t.Fatalf("external-tool-unavailable must be non-fatal, got fatal=%v reason=%q", res.Fatal, res.Reason)
	}
}
