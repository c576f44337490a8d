package tarfmt

import (
	"bytes"
	"context"
	"strconv"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

// writeHeader fills a 512-byte ustar header for a regular file member
// and fixes up the checksum field.
func writeHeader(name string, size int64, typeflag byte) []byte {
	b := make([]byte, blockSize)
	copy(b[0:100], name)
	copy(b[100:108], "0000644\x00")
	copy(b[108:116], "0000000\x00")
	copy(b[116:124], "0000000\x00")
	copy(b[124:136], padOctal(size, 11)+"\x00")
	copy(b[136:148], "00000000000\x00")
	for i := 148; i < 156; i++ {
		b[i] = ' '
	}
	b[156] = typeflag
	copy(b[257:263], "ustar\x00")
	copy(b[263:265], "00")
	sum := checksum(b)
	copy(b[148:156], padOctal(sum, 6)+"\x00 ")
	return b
}

func padOctal(v int64, width int) string {
	s := strconv.FormatInt(v, 8)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

// buildFixture writes a one-member tar archive ("hello.txt", 5 bytes)
// followed by the two-block end-of-archive marker.
func buildFixture() []byte {
	var buf bytes.Buffer
	buf.Write(writeHeader("hello.txt", 5, '0'))
	data := make([]byte, blockSize)
	copy(data, "hello")
	buf.Write(data)
	buf.Write(make([]byte, blockSize))
	buf.Write(make([]byte, blockSize))
	return buf.Bytes()
}

func TestTarWellFormed(t *testing.T) {
	data := buildFixture()
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("expected length %d, got %d", len(data), res.Length)
	}
}

func TestTarBadChecksum(t *testing.T) {
	data := buildFixture()
	data[148] ^= 0xFF
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on corrupted checksum")
	}
}

func TestTarMissingMagic(t *testing.T) {
	data := buildFixture()
	copy(data[257:262], "xxxxx")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure when first header lacks ustar magic")
	}
}
