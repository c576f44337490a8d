package psd

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func putU32(v uint32) []byte { return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)} }

// buildFixture writes a minimal raw-mode (compression method 0) PSD
// file: 1 channel, 1x1 pixel, 8-bit depth, grayscale color mode, no
// color mode data, no image resources, no layer/mask section.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(signature)
	buf.Write(putU16(1))         // version
	buf.Write(make([]byte, 6))   // reserved
	buf.Write(putU16(1))         // numberOfChannels
	buf.Write(putU32(1))         // imageHeight
	buf.Write(putU32(1))         // imageWidth
	buf.Write(putU16(8))         // imageDepth
	buf.Write(putU16(1))         // colorMode (grayscale)
	buf.Write(putU32(0))         // colorModeLength
	buf.Write(putU32(0))         // resourcesLength
	buf.Write(putU32(0))         // layerSectionLength
	buf.Write(putU16(0))         // compressionMethod (raw)
	buf.Write([]byte{0x7F})      // 1 channel * 1 * 1 pixel bytes
	return buf.Bytes()
}

func TestPSDWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestPSDInvalidChannelCount(t *testing.T) {
	data := buildFixture(t)
	copy(data[12:14], putU16(0))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on zero channel count")
	}
}

func TestPSDUnsupportedCompressionMethod(t *testing.T) {
	data := buildFixture(t)
	copy(data[len(data)-3:len(data)-1], putU16(2))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on ZIP-based compression method")
	}
}
