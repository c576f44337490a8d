package sparseimg

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.LittleEndian, v) }
func putU16(buf *bytes.Buffer, v uint16) { binary.Write(buf, binary.LittleEndian, v) }

// buildFixture assembles a 4-chunk sparse image: one RAW block, one FILL
// block, one DONT_CARE block, one CRC32 chunk (S7-adjacent coverage for
// the sibling sparse-image container format).
func buildFixture() []byte {
	var buf bytes.Buffer
	putU32(&buf, magic)
	putU16(&buf, 1) // major
	putU16(&buf, 0) // minor
	putU16(&buf, headerSize)
	putU16(&buf, chunkHdrSz)
	putU32(&buf, 4096) // blk_sz
	putU32(&buf, 3)    // total_blks
	putU32(&buf, 4)    // total_chunks
	putU32(&buf, 0)    // image checksum

	raw := bytes.Repeat([]byte{0xAB}, 4096)
	putU16(&buf, chunkRaw)
	putU16(&buf, 0)
	putU32(&buf, 1)
	putU32(&buf, chunkHdrSz+uint32(len(raw)))
	buf.Write(raw)

	putU16(&buf, chunkFill)
	putU16(&buf, 0)
	putU32(&buf, 1)
	putU32(&buf, chunkHdrSz+4)
	putU32(&buf, 0xDEADBEEF)

	putU16(&buf, chunkDontCare)
	putU16(&buf, 0)
	putU32(&buf, 1)
	putU32(&buf, chunkHdrSz)

	putU16(&buf, chunkCRC32)
	putU16(&buf, 0)
	putU32(&buf, 0)
	putU32(&buf, chunkHdrSz+4)
	putU32(&buf, 0x12345678)

	return buf.Bytes()
}

func TestSparseImageReconstruction(t *testing.T) {
	data := buildFixture()
	r := bytes.NewReader(data)
	dir := t.TempDir()
	env := scanenv.Environment{OutputDirectory: dir}

	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("length = %d, want %d", res.Length, len(data))
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts = %v, want 1", res.Artifacts)
	}
	got, rerr := os.ReadFile(filepath.Join(dir, res.Artifacts[0].RelPath))
	if rerr != nil {
		t.Fatalf("reading output image: %v", rerr)
	}
	if len(got) != 3*4096 {
		t.Fatalf("output size = %d, want %d", len(got), 3*4096)
	}
	if !bytes.Equal(got[0:4096], bytes.Repeat([]byte{0xAB}, 4096)) {
		t.Fatalf("RAW block mismatch")
	}
	wantFill := bytes.Repeat([]byte{0xEF, 0xBE, 0xAD, 0xDE}, 1024)
	if !bytes.Equal(got[4096:8192], wantFill) {
		t.Fatalf("FILL block mismatch")
	}
	if !bytes.Equal(got[8192:12288], make([]byte, 4096)) {
		t.Fatalf("DONT_CARE block not zero")
	}
}

func TestSparseImageUnknownChunk(t *testing.T) {
	data := buildFixture()
	// Corrupt the fourth chunk's type to something unrecognized.
	idx := headerSize + chunkHdrSz + 4096 + chunkHdrSz + 4 + chunkHdrSz
	binary.LittleEndian.PutUint16(data[idx:], 0x9999)
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if res.Ok() {
		t.Fatalf("expected failure on unknown chunk type")
	}
}
