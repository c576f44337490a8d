package odex

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/adler32"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func buildFixture() []byte {
	const (
		dexOff  = 40
		dexLen  = 8
		depsOff = 48
		depsLen = 4
		optOff  = 52
		optLen  = 4
	)
	deps := []byte{1, 2, 3, 4}
	opt := []byte{5, 6, 7, 8}
	sum := adler32.Checksum(append(append([]byte{}, deps...), opt...))

	buf := make([]byte, optOff+optLen)
	copy(buf[0:], "dey\n")
	copy(buf[4:], "036\x00")
	binary.LittleEndian.PutUint32(buf[8:], dexOff)
	binary.LittleEndian.PutUint32(buf[12:], dexLen)
	binary.LittleEndian.PutUint32(buf[16:], depsOff)
	binary.LittleEndian.PutUint32(buf[20:], depsLen)
	binary.LittleEndian.PutUint32(buf[24:], optOff)
	binary.LittleEndian.PutUint32(buf[28:], optLen)
	binary.LittleEndian.PutUint32(buf[32:], 0) // flags
	binary.LittleEndian.PutUint32(buf[36:], sum)
	copy(buf[dexOff:], "dex\n0350")
	copy(buf[depsOff:], deps)
	copy(buf[optOff:], opt)
	return buf
}

func TestODEXWellFormed(t *testing.T) {
	data := buildFixture()
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("Length = %d, want %d", res.Length, len(data))
	}
}

func TestODEXBadChecksum(t *testing.T) {
	data := buildFixture()
	data[36] ^= 0xFF
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad deps/opt checksum")
	}
}

func TestODEXBadEmbeddedMagic(t *testing.T) {
	data := buildFixture()
	copy(data[40:], "xxxx0000")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad embedded dex magic")
	}
}
