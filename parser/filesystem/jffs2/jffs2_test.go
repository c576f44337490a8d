package jffs2

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xsum"
)

// buildNode assembles one little-endian JFFS2 node: magic, type, total
// size, header CRC (over the first 8 bytes), then the type-specific body,
// padded up to a 4-byte boundary.
func buildNode(nodeType uint16, body []byte) []byte {
	size := uint32(12 + len(body))
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint16(hdr[0:2], nodeMagic)
	binary.LittleEndian.PutUint16(hdr[2:4], nodeType)
	binary.LittleEndian.PutUint32(hdr[4:8], size)

	crc := xsum.NewJFFS2CRC()
	crc.Update(hdr)
	crcField := crc.(interface{ FinalizeUint32() uint32 }).FinalizeUint32()

	out := make([]byte, 0, size)
	out = append(out, hdr...)
	crcBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBytes, crcField)
	out = append(out, crcBytes...)
	out = append(out, body...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

func direntBody(pino, ino uint32, name string) []byte {
	b := make([]byte, 28+len(name))
	binary.LittleEndian.PutUint32(b[0:4], pino)
	binary.LittleEndian.PutUint32(b[4:8], 0) // version
	binary.LittleEndian.PutUint32(b[8:12], ino)
	binary.LittleEndian.PutUint32(b[12:16], 0) // mctime
	b[16] = byte(len(name))
	b[17] = 8 // DT_REG
	copy(b[28:], name)
	return b
}

func inodeBody(ino uint32, nodeOffset int64, data []byte) []byte {
	b := make([]byte, 56+len(data))
	binary.LittleEndian.PutUint32(b[0:4], ino)
	binary.LittleEndian.PutUint32(b[4:8], 1)                   // version
	binary.LittleEndian.PutUint32(b[8:12], 0o100644)           // mode
	binary.LittleEndian.PutUint32(b[16:20], uint32(len(data))) // isize
	binary.LittleEndian.PutUint32(b[32:36], uint32(nodeOffset))
	binary.LittleEndian.PutUint32(b[36:40], uint32(len(data))) // csize
	binary.LittleEndian.PutUint32(b[40:44], uint32(len(data))) // dsize
	b[44] = comprNone
	copy(b[56:], data)
	return b
}

// buildFixture assembles a minimal filesystem: root (ino 1) containing one
// regular file "hello.txt" (ino 2) holding a single uncompressed INODE node.
func buildFixture(content []byte) []byte {
	var buf bytes.Buffer
	buf.Write(buildNode(typeDirent, direntBody(1, 2, "hello.txt")))
	buf.Write(buildNode(typeInode, inodeBody(2, 0, content)))
	return buf.Bytes()
}

func TestJFFS2Reconstruction(t *testing.T) {
	content := []byte("hello carvex jffs2")
	data := buildFixture(content)
	r := bytes.NewReader(data)
	dir := t.TempDir()
	env := scanenv.Environment{OutputDirectory: dir}

	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected one extracted file, got %v", res.Artifacts)
	}
	got, err := os.ReadFile(filepath.Join(dir, res.Artifacts[0].RelPath))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content = %q, want %q", got, content)
	}
}

func TestJFFS2RootNeverReferenced(t *testing.T) {
	var buf bytes.Buffer
	// A dirent whose parent/ino are both non-root: root is never named.
	buf.Write(buildNode(typeDirent, direntBody(5, 6, "orphan.txt")))
	data := buf.Bytes()
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}

	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if res.Ok() {
		t.Fatalf("expected failure when root inode is never referenced")
	}
}

func TestJFFS2BadHeaderCRC(t *testing.T) {
	data := buildFixture([]byte("x"))
	// Corrupt the header CRC field of the first node (bytes 8..12).
	data[8] ^= 0xFF
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}

	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if res.Ok() {
		t.Fatalf("expected failure on corrupted header crc")
	}
}

func TestJFFS2BadMagic(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}

	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if res.Ok() {
		t.Fatalf("expected failure on non-jffs2 input")
	}
}
