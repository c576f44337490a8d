package arsc

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

// buildFixture assembles a minimal valid table: ResTable_header (12
// bytes) + a string pool chunk (28-byte header, no strings) + one
// package chunk (8-byte header, no body).
func buildFixture() []byte {
	spTotal := uint32(28)
	pkgTotal := uint32(8)
	tableTotal := uint32(12) + spTotal + pkgTotal

	buf := make([]byte, tableTotal)
	binary.LittleEndian.PutUint16(buf[0:], typeTable)
	binary.LittleEndian.PutUint16(buf[2:], 12)
	binary.LittleEndian.PutUint32(buf[4:], tableTotal)
	binary.LittleEndian.PutUint32(buf[8:], 1) // package_count

	sp := buf[12:]
	binary.LittleEndian.PutUint16(sp[0:], typeStringPool)
	binary.LittleEndian.PutUint16(sp[2:], 28)
	binary.LittleEndian.PutUint32(sp[4:], spTotal)
	binary.LittleEndian.PutUint32(sp[8:], 0)        // string_count
	binary.LittleEndian.PutUint32(sp[12:], 0)       // style_count
	binary.LittleEndian.PutUint32(sp[16:], utf8Flag) // flags
	binary.LittleEndian.PutUint32(sp[20:], 28)      // strings_start
	binary.LittleEndian.PutUint32(sp[24:], 0)       // styles_start

	pkg := buf[12+spTotal:]
	binary.LittleEndian.PutUint16(pkg[0:], typePackage)
	binary.LittleEndian.PutUint16(pkg[2:], 8)
	binary.LittleEndian.PutUint32(pkg[4:], pkgTotal)

	return buf
}

func TestARSCWellFormed(t *testing.T) {
	data := buildFixture()
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("Length = %d, want %d", res.Length, len(data))
	}
	if res.Metadata["packages"] != 1 {
		t.Fatalf("packages = %v, want 1", res.Metadata["packages"])
	}
}

func TestARSCBadTopLevelType(t *testing.T) {
	data := buildFixture()
	binary.LittleEndian.PutUint16(data[0:], 0x0099)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad top-level chunk type")
	}
}

func TestARSCStringPoolExtendsPastTable(t *testing.T) {
	data := buildFixture()
	binary.LittleEndian.PutUint32(data[12+4:], 99999)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure when string pool chunk extends past the table")
	}
}
