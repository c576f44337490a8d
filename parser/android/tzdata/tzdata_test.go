package tzdata

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.BigEndian, v) }

func buildFixture() ([]byte, string) {
	var buf bytes.Buffer
	buf.WriteString("tzdata20")
	buf.WriteString("16g\x00") // 2-digit year + letter + NUL

	indexOff := uint32(24) // header(24), including the 3 offsets written below
	_ = indexOff

	// Layout: header(24) | index(52) | data | zone.tab
	headerLen := int64(buf.Len() + 12)
	indexEntry := "America/New_York"
	var nameBuf [40]byte
	copy(nameBuf[:], indexEntry)
	data := []byte("TZif2-fake-zoneinfo-payload")

	index := append([]byte{}, nameBuf[:]...)
	var ie bytes.Buffer
	putU32(&ie, 0) // offset within data
	putU32(&ie, uint32(len(data)))
	putU32(&ie, 0) // raw-gmt
	index = append(index, ie.Bytes()...)

	idxOff := headerLen
	dataOff := idxOff + int64(len(index))
	zoneTabOff := dataOff + int64(len(data))

	putU32(&buf, uint32(idxOff))
	putU32(&buf, uint32(dataOff))
	putU32(&buf, uint32(zoneTabOff))
	buf.Write(index)
	buf.Write(data)
	buf.WriteString("US\tAmerica/New_York\n")

	return buf.Bytes(), indexEntry
}

func TestTzdataExtraction(t *testing.T) {
	data, entryName := buildFixture()
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
	got, err := os.ReadFile(filepath.Join(dir, entryName))
	if err != nil {
		t.Fatalf("reading %q: %v", entryName, err)
	}
	if string(got) != "TZif2-fake-zoneinfo-payload" {
		t.Fatalf("entry content = %q", got)
	}
	zoneTab, err := os.ReadFile(filepath.Join(dir, "zone.tab"))
	if err != nil || string(zoneTab) != "US\tAmerica/New_York\n" {
		t.Fatalf("zone.tab content mismatch: %q, %v", zoneTab, err)
	}
}

func TestTzdataBadMagic(t *testing.T) {
	data := make([]byte, 40)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if res.Ok() {
		t.Fatalf("expected failure on missing tzdata magic")
	}
}
