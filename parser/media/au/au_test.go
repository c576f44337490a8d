package au

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// buildFixture writes a minimal AU header (24-byte header, no info
// chunk) followed by 8 bytes of sample data.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	const dataOffset = 24
	data := make([]byte, 8)

	var buf bytes.Buffer
	buf.Write(signature)
	buf.Write(putU32(dataOffset))
	buf.Write(putU32(uint32(len(data))))
	buf.Write(putU32(1))  // encoding: 8-bit mu-law
	buf.Write(putU32(8000)) // sample rate
	buf.Write(putU32(1))  // channels
	buf.Write(data)
	return buf.Bytes()
}

func TestAUWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestAUBadEncoding(t *testing.T) {
	data := buildFixture(t)
	copy(data[12:16], putU32(999))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unrecognized encoding")
	}
}

func TestAUUnalignedDataOffset(t *testing.T) {
	data := buildFixture(t)
	copy(data[4:8], putU32(25))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unaligned data offset")
	}
}
