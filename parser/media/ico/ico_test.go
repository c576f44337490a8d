package ico

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
func putU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// buildFixture writes a one-image ICO: a 6-byte ICONDIR, a single
// 16-byte ICONDIRENTRY pointing at a minimal 40-byte BITMAPINFOHEADER
// image at offset 22.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 1, 0}) // reserved, type=icon
	buf.Write(putU16(1))          // one image

	imgOffset := uint32(22)
	imgSize := uint32(40)
	buf.WriteByte(32) // width
	buf.WriteByte(32) // height
	buf.Write(make([]byte, 6))
	buf.Write(putU32(imgSize))
	buf.Write(putU32(imgOffset))

	buf.Write(putU32(40)) // DIB header size field
	buf.Write(make([]byte, 36))
	return buf.Bytes()
}

func TestICOWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestICONoImages(t *testing.T) {
	data := buildFixture(t)
	copy(data[4:6], putU16(0))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure when no images are defined")
	}
}

func TestICOBadDIBHeaderSize(t *testing.T) {
	data := buildFixture(t)
	copy(data[22:26], putU32(999))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on invalid DIB header size")
	}
}
