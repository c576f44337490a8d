package vmimage

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func buildVDI() []byte {
	buf := make([]byte, 512)
	copy(buf[0:], []byte{0x3c, 0x3c, 0x3c, 0x20})
	binary.LittleEndian.PutUint32(buf[64:], 0xbeda107f)
	return buf
}

func TestVMImageNotWholeFile(t *testing.T) {
	prefix := make([]byte, 16)
	data := append(prefix, buildVDI()...)
	// a nonzero offset means the candidate signature was found embedded
	// partway through a larger input, which this format class refuses
	// to carve since VDI/VMDK/qcow2 only make sense full-file.
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), int64(len(prefix)), scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure for a non-whole-file region")
	}
}

func TestVMImageBadMagic(t *testing.T) {
	data := make([]byte, 512)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on unrecognized header")
	}
}

func TestVMImageQcow2ToolUnavailable(t *testing.T) {
	data := make([]byte, 512)
	copy(data[0:], []byte("QFI\xfb"))
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{OutputDirectory: t.TempDir(), TemporaryDirectory: t.TempDir()})
	if res.Ok() {
		t.Skip("qemu-img is available in this environment; conversion path exercised instead")
	}
	if res.Fatal {
		t.Fatalf("external-tool-unavailable must be non-fatal, got fatal=%v reason=%q", res.Fatal, res.Reason)
	}
}
