package ktx

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// buildFixture writes a minimal big-endian, uncompressed KTX file with
// no key/value data and a single mipmap level of zero bytes.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(signature)
	buf.Write([]byte{0x04, 0x03, 0x02, 0x01}) // big-endian marker
	buf.Write(putU32(0x1401))                 // glType (not compressed)
	buf.Write(putU32(1))                      // glTypeSize
	buf.Write(putU32(0x1908))                 // glFormat
	buf.Write(putU32(0x1908))                 // glInternalFormat
	buf.Write(putU32(0x1908))                 // glBaseInternalFormat
	buf.Write(putU32(2))                      // pixelWidth
	buf.Write(putU32(2))                      // pixelHeight
	buf.Write(putU32(0))                      // pixelDepth
	buf.Write(putU32(0))                      // numberOfArrayElements
	buf.Write(putU32(1))                      // numberOfFaces
	buf.Write(putU32(0))                      // numberOfMipmapLevels
	buf.Write(putU32(0))                      // bytesOfKeyValueData
	buf.Write(putU32(0))                      // mipmap level 0 size
	return buf.Bytes()
}

func TestKTXWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestKTXBadEndianness(t *testing.T) {
	data := buildFixture(t)
	copy(data[12:16], []byte{0xAA, 0xBB, 0xCC, 0xDD})
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad endianness marker")
	}
}

func TestKTXWrongNumberOfFaces(t *testing.T) {
	data := buildFixture(t)
	copy(data[len(data)-16:len(data)-12], putU32(2))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on invalid numberOfFaces")
	}
}
