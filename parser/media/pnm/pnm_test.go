package pnm

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

// buildPGMFixture writes a minimal raw PGM: "P5 2 1 255\n" header
// followed by 2 bytes of 8-bit grayscale raster data.
func buildPGMFixture() []byte {
	var buf bytes.Buffer
	buf.WriteString("P5 2 1 255\n")
	buf.Write([]byte{0x10, 0x20})
	return buf.Bytes()
}

func TestPNMWellFormed(t *testing.T) {
	data := buildPGMFixture()
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("expected length %d, got %d", len(data), res.Length)
	}
}

func TestPNMBadMagic(t *testing.T) {
	data := []byte("P9 2 1 255\n\x10\x20")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unrecognized magic")
	}
}

func TestPNMTruncatedRaster(t *testing.T) {
	data := buildPGMFixture()
	data = data[:len(data)-1]
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on truncated raster data")
	}
}

func TestPBMRowPadding(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("P4 9 1\n")
	buf.Write([]byte{0xFF, 0x80}) // 9 bits -> 2 bytes per row
	data := buf.Bytes()
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}
