package icns

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// buildFixture writes a minimal ICNS file with a single 16-byte icon
// element (8-byte header, 8 bytes of icon data).
func buildFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(signature)
	buf.Write(putU32(8 + 16)) // total length: header + one element
	buf.WriteString("ic07")
	buf.Write(putU32(16)) // element length includes its own 8-byte header
	buf.Write(make([]byte, 8))
	return buf.Bytes()
}

func TestICNSWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestICNSElementLengthTooSmall(t *testing.T) {
	data := buildFixture(t)
	copy(data[12:16], putU32(4))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on element length smaller than its own header")
	}
}

func TestICNSDeclaredLengthExceedsFile(t *testing.T) {
	data := buildFixture(t)
	copy(data[4:8], putU32(uint32(len(data))+100))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure when declared length exceeds file")
	}
}
