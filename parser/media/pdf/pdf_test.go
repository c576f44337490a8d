package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

// buildUpdate renders one trailer/startxref/%%EOF increment. prev is
// -1 for "no /Prev entry".
func buildUpdate(xrefOffset int64, prev int64) []byte {
	var buf bytes.Buffer
	buf.WriteString("xref\n0 1\n0000000000 65535 f \n")
	buf.WriteString("trailer\n<< /Size 1")
	if prev >= 0 {
		buf.WriteString(" /Prev ")
		buf.WriteString(itoa(prev))
	}
	buf.WriteString(" >>\n")
	buf.WriteString("startxref\n")
	buf.WriteString(itoa(xrefOffset))
	buf.WriteString("\n%%EOF\n")
	return buf.Bytes()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

func TestPDFIncrementalUpdate(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	firstXrefOffset := int64(buf.Len())
	first := buildUpdate(firstXrefOffset, -1)
	buf.Write(first)

	secondStart := int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Page >>\nendobj\n")
	secondXrefOffset := int64(buf.Len())
	second := buildUpdate(secondXrefOffset, firstXrefOffset)
	buf.Write(second)
	_ = secondStart

	data := buf.Bytes()
	r := bytes.NewReader(data)
	env := scanenv.Environment{}

	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("length = %d, want %d", res.Length, len(data))
	}
	if res.Metadata["updates"] != 2 {
		t.Fatalf("updates = %v, want 2", res.Metadata["updates"])
	}
}

func TestPDFBadMagic(t *testing.T) {
	data := []byte("not a pdf at all, just some bytes padding it out long enough")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on missing %%PDF- header")
	}
}

func TestPDFMissingTrailer(t *testing.T) {
	data := []byte("%PDF-1.7\nsome content with no startxref or eof marker at all\n")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure when no startxref/%%%%EOF pair is present")
	}
}
