package ani

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// buildFixture writes a well-formed (non-broken-length) RIFF/ACON
// container with one "anih" chunk.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	payload := make([]byte, 36) // ANIHEADER size
	var body bytes.Buffer
	body.WriteString("ACON")
	body.WriteString("anih")
	body.Write(putU32(uint32(len(payload))))
	body.Write(payload)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	buf.Write(putU32(uint32(body.Len())))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

func TestANIWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestANIBrokenLength(t *testing.T) {
	data := buildFixture(t)
	// rewrite the declared length to be the whole file's size instead of
	// the RIFF-standard "bytes following the length field" count.
	copy(data[4:8], putU32(uint32(len(data))))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success with broken-length heuristic, got reason=%q", res.Reason)
	}
}

func TestANIUnknownChunk(t *testing.T) {
	data := buildFixture(t)
	copy(data[12:16], "ZZZZ")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unrecognized chunk FourCC")
	}
}
