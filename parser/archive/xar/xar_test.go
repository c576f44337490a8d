package xar

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func buildFixture(t *testing.T) []byte {
	t.Helper()
	tocXML := []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<toc><file><name>hello.txt</name><data><offset>0</offset><length>5</length></data></file></toc>`)

	var tocBuf bytes.Buffer
	zw := zlib.NewWriter(&tocBuf)
	if _, err := zw.Write(tocXML); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	tocCompressed := tocBuf.Bytes()

	var buf bytes.Buffer
	buf.Write(signature)
	binary.Write(&buf, binary.BigEndian, uint16(28))
	binary.Write(&buf, binary.BigEndian, uint16(1))
	binary.Write(&buf, binary.BigEndian, uint64(len(tocCompressed)))
	binary.Write(&buf, binary.BigEndian, uint64(len(tocXML)))
	binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.Write(tocCompressed)
	buf.WriteString("hello")
	return buf.Bytes()
}

func TestXARWellFormed(t *testing.T) {
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

func TestXARBadMagic(t *testing.T) {
	data := buildFixture(t)
	copy(data[:4], "XXXX")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}

func TestXARCorruptTOC(t *testing.T) {
	data := buildFixture(t)
	// Flip a byte inside the compressed table of contents blob.
	data[30] ^= 0xFF
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on corrupt table of contents")
	}
}

func TestXARDataOutsideFile(t *testing.T) {
	data := buildFixture(t)
	// Truncate the file so the heap no longer holds the declared data.
	truncated := data[:len(data)-5]
	r := bytes.NewReader(truncated)
	res := Parser{}.Parse(context.Background(), r, int64(len(truncated)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure when declared data extends past end of file")
	}
}
