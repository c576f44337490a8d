package zstd

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

// fixture is "hello carvex zstd stream" compressed with a standard zstd
// encoder.
var fixture = []byte{
	0x28, 0xb5, 0x2f, 0xfd, 0x04, 0x58, 0xc1, 0x00, 0x00, 0x68, 0x65, 0x6c,
	0x6c, 0x6f, 0x20, 0x63, 0x61, 0x72, 0x76, 0x65, 0x78, 0x20, 0x7a, 0x73,
	0x74, 0x64, 0x20, 0x73, 0x74, 0x72, 0x65, 0x61, 0x6d, 0xb2, 0x29, 0xb0,
	0xce,
}

func TestZstdWholeFile(t *testing.T) {
	r := bytes.NewReader(fixture)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}
	res := Parser{}.Parse(context.Background(), r, int64(len(fixture)), 0, env)
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(fixture)) {
		t.Fatalf("length=%d want %d", res.Length, len(fixture))
	}
}

func TestZstdBadMagic(t *testing.T) {
	data := []byte("not zstd data at all")
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}
