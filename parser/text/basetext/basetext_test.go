package basetext

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func TestBaseTextDecodesBase64(t *testing.T) {
	payload := []byte("this is a reasonably long plaintext payload to encode")
	encoded := []byte(base64.StdEncoding.EncodeToString(payload))
	r := bytes.NewReader(encoded)
	res := Parser{}.Parse(context.Background(), r, int64(len(encoded)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if res.Metadata["encoding"] != "base64" {
		t.Fatalf("encoding = %v, want base64", res.Metadata["encoding"])
	}
}

func TestBaseTextRejectsHashDigest(t *testing.T) {
	// a 40-char lowercase-hex string on its own line looks exactly like
	// a SHA-1 digest and must not be decoded as base16.
	data := []byte("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure: 40-char hex line should be treated as a hash digest")
	}
}

func TestBaseTextNotWholeFile(t *testing.T) {
	payload := []byte(base64.StdEncoding.EncodeToString([]byte("hello world")))
	data := append([]byte("xx"), payload...)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 2, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure for a non-whole-file region")
	}
}
