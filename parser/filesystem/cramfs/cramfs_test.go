package cramfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func buildFixture(size uint32) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:], []byte{0x45, 0x3d, 0xcd, 0x28})
	binary.LittleEndian.PutUint32(buf[4:], size)
	// flags, future left zero
	copy(buf[16:], []byte("Compressed ROMFS"))
	// crc left zero
	binary.LittleEndian.PutUint32(buf[36:], 0) // edition 0
	return buf
}

func TestCramfsBadMagic(t *testing.T) {
	data := make([]byte, headerSize)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}

func TestCramfsSizeExceedsRegion(t *testing.T) {
	data := buildFixture(1 << 30)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure when declared size exceeds region")
	}
}

func TestCramfsBadEdition(t *testing.T) {
	data := buildFixture(uint32(headerSize))
	binary.LittleEndian.PutUint32(data[36:], 7)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unknown edition")
	}
}
