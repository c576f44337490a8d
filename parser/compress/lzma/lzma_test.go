package lzma

import (
	"bytes"
	"context"
	"testing"

	"github.com/ulikunitz/xz/lzma"

	"github.com/carvex/carvex/internal/scanenv"
)

func buildFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("hello carvex lzma stream")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLZMAWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestLZMABadProperties(t *testing.T) {
	data := buildFixture(t)
	data[0] = 0xFF // out of the valid 0..224 range
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on invalid properties byte")
	}
}

func TestLZMATooShort(t *testing.T) {
	data := buildFixture(t)[:5]
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on truncated header")
	}
}
