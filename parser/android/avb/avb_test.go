package avb

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.BigEndian, v) }
func putU64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.BigEndian, v) }

func buildFixture() []byte {
	var buf bytes.Buffer
	buf.WriteString("AVB0")
	putU32(&buf, 1) // major
	putU32(&buf, 0) // minor
	putU64(&buf, 64) // auth block size
	putU64(&buf, 32) // aux block size
	putU32(&buf, 0)  // algorithm

	putU64(&buf, 0)  // hash off
	putU64(&buf, 32) // hash size
	putU64(&buf, 32) // signature off
	putU64(&buf, 32) // signature size
	putU64(&buf, 0)  // public_key off
	putU64(&buf, 16) // public_key size
	putU64(&buf, 16) // public_key_metadata off
	putU64(&buf, 0)  // public_key_metadata size
	putU64(&buf, 16) // descriptors off
	putU64(&buf, 16) // descriptors size

	putU64(&buf, 0) // rollback index
	putU32(&buf, 0) // flags
	buf.Write(make([]byte, 4))
	buf.Write(make([]byte, 48))
	buf.Write(make([]byte, 80))

	header := buf.Bytes()
	if len(header) != headerSize {
		panic("fixture header size mismatch")
	}
	body := make([]byte, 64+32)
	data := append(header, body...)
	if rem := len(data) % padding; rem != 0 {
		data = append(data, make([]byte, padding-rem)...)
	}
	return data
}

func TestAVBWellFormed(t *testing.T) {
	data := buildFixture()
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("length = %d, want %d", res.Length, len(data))
	}
}

func TestAVBBadMagic(t *testing.T) {
	data := make([]byte, 300)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on missing AVB0 magic")
	}
}
