package ar

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

// writeMember writes one ar_hdr + data (+ even-padding) for a short
// member name.
func writeMember(buf *bytes.Buffer, name string, data []byte) {
	var h bytes.Buffer
	fmt.Fprintf(&h, "%-16s", name+"/")
	fmt.Fprintf(&h, "%-12d", 0) // date
	fmt.Fprintf(&h, "%-6d", 0)  // uid
	fmt.Fprintf(&h, "%-6d", 0)  // gid
	fmt.Fprintf(&h, "%-8s", "100644")
	fmt.Fprintf(&h, "%-10d", len(data))
	h.Write([]byte{0x60, 0x0A})
	buf.Write(h.Bytes())
	buf.Write(data)
	if len(data)%2 != 0 {
		buf.WriteByte('\n')
	}
}

func buildFixture() []byte {
	var buf bytes.Buffer
	buf.Write(globalMagic)
	writeMember(&buf, "hello.o", []byte("hi"))
	return buf.Bytes()
}

func TestARWellFormed(t *testing.T) {
	data := buildFixture()
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir()})
	if !res.Ok() {
		t.Fatalf("expected success, got reason=%q", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("expected length %d, got %d", len(data), res.Length)
	}
}

func TestARBadMagic(t *testing.T) {
	data := buildFixture()
	copy(data[:8], "XXXXXXXX")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad global magic")
	}
}

func TestARMissingHeaderTerminator(t *testing.T) {
	data := buildFixture()
	data[len(globalMagic)+58] = 'X'
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on missing header terminator")
	}
}
