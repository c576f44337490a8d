package gzip

import (
	"bytes"
	"context"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"

	"github.com/carvex/carvex/internal/scanenv"
)

func buildGzip(t *testing.T, payload []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	w := kgzip.NewWriter(&b)
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return b.Bytes()
}

func TestGzipWholeFile(t *testing.T) {
	data := buildGzip(t, []byte("hello carvex gzip stream"))
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("length=%d want %d", res.Length, len(data))
	}
	if !res.Labels.Has("gzip") {
		t.Fatalf("expected gzip label, got %v", res.Labels.Slice())
	}
}

func TestGzipBadMagic(t *testing.T) {
	data := []byte("not gzip data")
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}
