package zip

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

type member struct {
	name   string
	data   []byte
	method uint16 // 0 stored, 8 deflate
}

func deflateRaw(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("flate write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("flate close: %v", err)
	}
	return buf.Bytes()
}

// buildZIP assembles a minimal well-formed ZIP from the given members,
// optionally followed by an APK v3 signing block between the last local
// entry and the central directory (S6).
func buildZIP(t *testing.T, members []member, apkSigBlock bool) []byte {
	t.Helper()
	var b bytes.Buffer
	type centralInfo struct {
		name           string
		crc            uint32
		csize, usize   uint32
		method         uint16
		localHdrOffset uint32
	}
	var centrals []centralInfo

	for _, m := range members {
		hdrOffset := uint32(b.Len())
		var payload []byte
		switch m.method {
		case 8:
			payload = deflateRaw(t, m.data)
		default:
			payload = m.data
		}
		crc := crc32.ChecksumIEEE(m.data)

		b.Write(sigLocalStd)
		writeU16(&b, 20)        // version needed
		writeU16(&b, 0)         // flags
		writeU16(&b, m.method)  // method
		writeU16(&b, 0)         // mod time
		writeU16(&b, 0)         // mod date
		writeU32(&b, crc)
		writeU32(&b, uint32(len(payload)))
		writeU32(&b, uint32(len(m.data)))
		writeU16(&b, uint16(len(m.name)))
		writeU16(&b, 0) // extra len
		b.WriteString(m.name)
		b.Write(payload)

		centrals = append(centrals, centralInfo{
			name: m.name, crc: crc, csize: uint32(len(payload)), usize: uint32(len(m.data)),
			method: m.method, localHdrOffset: hdrOffset,
		})
	}

	if apkSigBlock {
		writeAndroidSigBlock(&b)
	}

	cdStart := uint32(b.Len())
	for _, c := range centrals {
		b.Write(sigCentral)
		writeU16(&b, 20) // version made by
		writeU16(&b, 20) // version needed
		writeU16(&b, 0)  // flags
		writeU16(&b, c.method)
		writeU16(&b, 0) // mod time
		writeU16(&b, 0) // mod date
		writeU32(&b, c.crc)
		writeU32(&b, c.csize)
		writeU32(&b, c.usize)
		writeU16(&b, uint16(len(c.name)))
		writeU16(&b, 0) // extra len
		writeU16(&b, 0) // comment len
		writeU16(&b, 0) // disk number
		writeU16(&b, 0) // internal attrs
		writeU32(&b, 0) // external attrs
		writeU32(&b, c.localHdrOffset)
		b.WriteString(c.name)
	}
	cdSize := uint32(b.Len()) - cdStart

	b.Write(sigEOCD)
	writeU16(&b, 0) // disk number
	writeU16(&b, 0) // disk with central dir
	writeU16(&b, uint16(len(centrals)))
	writeU16(&b, uint16(len(centrals)))
	writeU32(&b, cdSize)
	writeU32(&b, cdStart)
	writeU16(&b, 0) // comment len

	return b.Bytes()
}

// writeAndroidSigBlock writes a minimal APK v3 signing block, padded so the
// block occupies a multiple of 4096 bytes from its own start, matching S6's
// "4096-aligned signing block" scenario.
func writeAndroidSigBlock(b *bytes.Buffer) {
	const trailerLen = 24 // 16-byte ASCII trailer + its own 8-byte size repeat
	body := []byte("signature-scheme-v3-placeholder")
	// size field (the block's own value) precedes body; total size excludes
	// the leading 8-byte size field itself, per the APK signing block format.
	inner := len(body) + trailerLen
	pad := 0
	if rem := (8 + inner) % 4096; rem != 0 {
		pad = 4096 - rem
	}
	inner += pad
	total := make([]byte, 0, 8+inner)
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(inner))
	total = append(total, sizeBuf[:]...)
	total = append(total, body...)
	total = append(total, make([]byte, pad)...)
	total = append(total, sizeBuf[:]...)
	total = append(total, []byte("APK Sig Block 42")...)
	b.Write(total)
}

func writeU16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func writeU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func TestZIPWholeFile(t *testing.T) {
	members := []member{
		{name: "README.txt", data: []byte("hello carvex"), method: 0},
		{name: "data.bin", data: bytes.Repeat([]byte("x"), 200), method: 8},
	}
	data := buildZIP(t, members, false)
	r := bytes.NewReader(data)
	dir := t.TempDir()
	env := scanenv.Environment{OutputDirectory: dir}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("length=%d want %d", res.Length, len(data))
	}
	for _, m := range members {
		got, err := os.ReadFile(filepath.Join(dir, m.name))
		if err != nil {
			t.Fatalf("member %s not extracted: %v", m.name, err)
		}
		if !bytes.Equal(got, m.data) {
			t.Fatalf("member %s content mismatch", m.name)
		}
	}
}

// TestZIPAndroidSigningBlockV3 covers S6: an APK with a 4096-aligned v3
// signing block between the last local entry and the central directory.
// Expected: success; labels include apk and android; members extract; the
// signing block bytes themselves are not emitted as an artifact.
func TestZIPAndroidSigningBlockV3(t *testing.T) {
	members := []member{
		{name: "AndroidManifest.xml", data: []byte("<manifest/>"), method: 0},
		{name: "classes.dex", data: bytes.Repeat([]byte{0xCA, 0xFE}, 64), method: 8},
	}
	data := buildZIP(t, members, true)
	r := bytes.NewReader(data)
	dir := t.TempDir()
	env := scanenv.Environment{OutputDirectory: dir}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("length=%d want %d", res.Length, len(data))
	}
	want := []string{"android", "apk"}
	for _, w := range want {
		if !res.Labels.Has(w) {
			t.Fatalf("expected label %q, got %v", w, res.Labels.Slice())
		}
	}
	for _, m := range members {
		if _, err := os.Stat(filepath.Join(dir, m.name)); err != nil {
			t.Fatalf("member %s not extracted: %v", m.name, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != len(members) {
		t.Fatalf("expected exactly %d extracted files, got %d: %v", len(members), len(entries), entries)
	}
}

func TestZIPDahuaVariant(t *testing.T) {
	members := []member{{name: "firmware.bin", data: []byte("dahua-payload"), method: 0}}
	data := buildZIP(t, members, false)
	// Rewrite the local header's "PK" magic to Dahua's "DH" variant.
	data[0], data[1] = 'D', 'H'

	prefix := make([]byte, 64)
	full := append(prefix, data...)
	r := bytes.NewReader(full)
	dir := t.TempDir()
	env := scanenv.Environment{OutputDirectory: dir}
	res := Parser{}.Parse(context.Background(), r, int64(len(full)), 64, env)
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("length=%d want %d", res.Length, len(data))
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected one staged artifact for carved dahua zip, got %v", res.Artifacts)
	}
	staged, err := os.ReadFile(filepath.Join(dir, res.Artifacts[0].RelPath))
	if err != nil {
		t.Fatalf("reading staged copy: %v", err)
	}
	if staged[0] != 'P' || staged[1] != 'K' {
		t.Fatalf("expected staged copy's header rewritten to PK, got %q", staged[:2])
	}
}

func TestZIPBadMagic(t *testing.T) {
	data := []byte("not a zip file at all, just filler bytes")
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}
