package aiff

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func buildFixture(t *testing.T) []byte {
	t.Helper()
	comm := make([]byte, 18)
	ssnd := make([]byte, 10)

	var body bytes.Buffer
	body.WriteString("AIFF")
	body.WriteString("COMM")
	body.Write(putU32(uint32(len(comm))))
	body.Write(comm)
	body.WriteString("SSND")
	body.Write(putU32(uint32(len(ssnd))))
	body.Write(ssnd)

	var buf bytes.Buffer
	buf.WriteString("FORM")
	buf.Write(putU32(uint32(body.Len())))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

func TestAIFFWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
}

func TestAIFFMissingSSND(t *testing.T) {
	data := buildFixture(t)
	copy(data[38:42], "ZZZZ") // corrupt the SSND chunk id
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure when SSND chunk is missing")
	}
}

func TestAIFFBadFormType(t *testing.T) {
	data := buildFixture(t)
	copy(data[8:12], "WAVE")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on wrong form type")
	}
}
