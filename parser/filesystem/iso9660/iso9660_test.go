package iso9660

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

const testBlockSize = 2048

func bothEndian32(v uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], v)
	binary.BigEndian.PutUint32(b[4:8], v)
	return b
}

func bothEndian16(v uint16) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], v)
	binary.BigEndian.PutUint16(b[2:4], v)
	return b
}

func buildSUSP(sig string, payload []byte) []byte {
	out := []byte{sig[0], sig[1], byte(4 + len(payload)), 1}
	return append(out, payload...)
}

// buildRecord assembles one ISO 9660 directory record.
func buildRecord(extent, dataLen uint32, flags byte, nameBytes, susp []byte) []byte {
	var body []byte
	body = append(body, 0, 0) // length, ext-attr-length placeholders
	body = append(body, bothEndian32(extent)...)
	body = append(body, bothEndian32(dataLen)...)
	body = append(body, make([]byte, 7)...) // recording date/time
	body = append(body, flags)
	body = append(body, 0, 0) // file unit size, interleave gap
	body = append(body, bothEndian16(1)...)
	body = append(body, byte(len(nameBytes)))
	body = append(body, nameBytes...)
	if len(nameBytes)%2 == 0 {
		body = append(body, 0)
	}
	body = append(body, susp...)
	if len(body)%2 != 0 {
		body = append(body, 0)
	}
	body[0] = byte(len(body))
	return body
}

func padTo(b []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, b)
	return out
}

func buildVolumeDescriptor(typ byte, extra []byte) []byte {
	sector := make([]byte, testBlockSize)
	sector[0] = typ
	copy(sector[1:6], "CD001")
	sector[6] = 1
	copy(sector[7:], extra)
	return sector
}

// buildFixture assembles a tiny ISO 9660 image with one relocated Rock
// Ridge directory: root/SUBDIR is a CL placeholder whose real content
// (DEEPDIR, holding FILE.TXT) lives under RR_MOVED, linked back via PL
// (S9: "ISO with Rock Ridge CL/PL").
func buildFixture(t *testing.T) ([]byte, string) {
	t.Helper()
	const (
		rootExtent  = 18
		movedExtent = 19
		deepExtent  = 20
		fileExtent  = 21
		stubExtent  = 22
	)
	fileContent := []byte("hello from the relocated directory\n")

	// DEEPDIR (extent 20): "." (PL -> root), "..", FILE.TXT (long RR name).
	var deepDir []byte
	deepDir = append(deepDir, buildRecord(deepExtent, testBlockSize, 0x02, []byte{0}, buildSUSP("PL", bothEndian32(rootExtent)))...)
	deepDir = append(deepDir, buildRecord(movedExtent, testBlockSize, 0x02, []byte{1}, nil)...)
	nmPayload := append([]byte{0}, []byte("file-with-a-very-long-rockridge-name.txt")...)
	deepDir = append(deepDir, buildRecord(fileExtent, uint32(len(fileContent)), 0x00, []byte("FILE.TXT;1"), buildSUSP("NM", nmPayload))...)
	deepDirBlock := padTo(deepDir, testBlockSize)

	// RR_MOVED (extent 19): ".", "..", DEEPDIR.
	var movedDir []byte
	movedDir = append(movedDir, buildRecord(movedExtent, testBlockSize, 0x02, []byte{0}, nil)...)
	movedDir = append(movedDir, buildRecord(rootExtent, testBlockSize, 0x02, []byte{1}, nil)...)
	movedDir = append(movedDir, buildRecord(deepExtent, testBlockSize, 0x02, []byte("DEEPDIR"), nil)...)
	movedDirBlock := padTo(movedDir, testBlockSize)

	// Placeholder stub directory (extent 22): just "." and "..".
	var stubDir []byte
	stubDir = append(stubDir, buildRecord(stubExtent, testBlockSize, 0x02, []byte{0}, nil)...)
	stubDir = append(stubDir, buildRecord(rootExtent, testBlockSize, 0x02, []byte{1}, nil)...)
	stubDirBlock := padTo(stubDir, testBlockSize)

	// Root (extent 18): ".", "..", RR_MOVED, SUBDIR (CL placeholder -> DEEPDIR).
	var root []byte
	root = append(root, buildRecord(rootExtent, testBlockSize, 0x02, []byte{0}, nil)...)
	root = append(root, buildRecord(rootExtent, testBlockSize, 0x02, []byte{1}, nil)...)
	root = append(root, buildRecord(movedExtent, testBlockSize, 0x02, []byte("RR_MOVED"), nil)...)
	root = append(root, buildRecord(stubExtent, testBlockSize, 0x02, []byte("SUBDIR"), buildSUSP("CL", bothEndian32(deepExtent)))...)
	rootBlock := padTo(root, testBlockSize)

	fileBlock := padTo(fileContent, testBlockSize)

	totalBlocks := uint32(16 + 7) // system area (16 blocks) + 7 data blocks
	var pvdExtra []byte
	pvdExtra = make([]byte, 2048-7)
	copy(pvdExtra[80-7:88-7], bothEndian32(totalBlocks))
	copy(pvdExtra[128-7:132-7], bothEndian16(testBlockSize))
	rootRecord := buildRecord(rootExtent, testBlockSize, 0x02, []byte{0}, nil)
	copy(pvdExtra[156-7:190-7], padTo(rootRecord, 34))
	pvd := buildVolumeDescriptor(1, pvdExtra)
	term := buildVolumeDescriptor(255, nil)

	var buf bytes.Buffer
	buf.Write(make([]byte, 32768))
	buf.Write(pvd)
	buf.Write(term)
	buf.Write(rootBlock)
	buf.Write(movedDirBlock)
	buf.Write(deepDirBlock)
	buf.Write(fileBlock)
	buf.Write(stubDirBlock)

	return buf.Bytes(), "SUBDIR/file-with-a-very-long-rockridge-name.txt"
}

func TestISO9660RockRidgeRelocation(t *testing.T) {
	data, wantPath := buildFixture(t)
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

	var found bool
	for _, a := range res.Artifacts {
		if a.RelPath == wantPath {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected artifact at relocated path %q, got %v", wantPath, res.Artifacts)
	}
	got, err := os.ReadFile(filepath.Join(dir, wantPath))
	if err != nil {
		t.Fatalf("reading relocated file: %v", err)
	}
	want := "hello from the relocated directory\n"
	if string(got) != want {
		t.Fatalf("content = %q, want %q", got, want)
	}
}

func TestISO9660BadMagic(t *testing.T) {
	data := make([]byte, 32768+2048)
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if res.Ok() {
		t.Fatalf("expected failure on missing CD001 magic")
	}
}
