package srec

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func TestSRECWellFormed(t *testing.T) {
	// S1 record: byte count 0x04 (addr 2 + 1 data + checksum), address
	// 0x0000, data 0xAA; checksum = ~(0x04+0x00+0x00+0xAA) & 0xFF = 0x51.
	data := []byte("S1040000AA51\nS9030000FC\n")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestSRECBadFirstLine(t *testing.T) {
	data := []byte("not an srec line at all\n")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on non-S first line")
	}
}

func TestSRECBadChecksum(t *testing.T) {
	data := []byte("S1040000AA00\n")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad checksum")
	}
}
