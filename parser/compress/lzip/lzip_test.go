package lzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/ulikunitz/xz/lzma"

	"github.com/carvex/carvex/internal/scanenv"
)

// rawLZMABody encodes payload with the classic framed LZMA1 writer (whose
// default properties match lzip's fixed lc=3,lp=0,pb=2) and strips the
// 13-byte classic header, leaving the bare LZMA1 bitstream lzip wraps.
func rawLZMABody(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()[13:]
}

func buildFixture(t *testing.T) []byte {
	t.Helper()
	payload := []byte("hello carvex lzip stream")
	body := rawLZMABody(t, payload)

	var buf bytes.Buffer
	buf.Write(signature)
	buf.WriteByte(1)    // version
	buf.WriteByte(0x14) // dictionary size: 1<<20, no refinement bits set
	buf.Write(body)

	var trailer [20]byte
	binary.LittleEndian.PutUint32(trailer[0:4], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint64(trailer[4:12], uint64(len(payload)))
	memberSize := uint64(headerSize + len(body) + trailerSize)
	binary.LittleEndian.PutUint64(trailer[12:20], memberSize)
	buf.Write(trailer[:])

	return buf.Bytes()
}

func TestLZIPWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("expected length %d, got %d", len(data), res.Length)
	}
}

func TestLZIPBadMagic(t *testing.T) {
	data := buildFixture(t)
	copy(data[:4], "XXXX")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}

func TestLZIPImplausibleMemberSize(t *testing.T) {
	data := buildFixture(t)
	binary.LittleEndian.PutUint64(data[len(data)-8:], uint64(len(data))*4)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on implausible member size")
	}
}
