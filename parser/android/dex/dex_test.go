package dex

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"hash/adler32"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

func putU32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.LittleEndian, v) }
func putU16(buf *bytes.Buffer, v uint16) { binary.Write(buf, binary.LittleEndian, v) }

func uleb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

// buildFixture assembles a minimal, internally-consistent DEX image: one
// string ("V"), one type referencing it, one proto with shorty "V", one
// field, one method, no class defs, and a trailing map list naming the
// string_ids, type_ids and map_list sections once each.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	const headerSize = 112
	var stringDataOff uint32 // fixed by body() once the base offset is known

	// Build section contents first (positions computed after we know the
	// base data offset).
	body := func(base uint32) ([]byte, uint32, uint32, uint32, uint32, uint32, uint32, []byte) {
		var b bytes.Buffer
		stringDataOff = base
		b.Write(uleb128(1))
		b.WriteString("V")
		b.WriteByte(0)
		dataSize := uint32(b.Len())

		stringIDsOff := base + dataSize
		var strIDs bytes.Buffer
		putU32(&strIDs, stringDataOff)

		typeIDsOff := stringIDsOff + uint32(strIDs.Len())
		var typeIDs bytes.Buffer
		putU32(&typeIDs, 0) // descriptor_idx -> string 0

		protoIDsOff := typeIDsOff + uint32(typeIDs.Len())
		var protoIDs bytes.Buffer
		putU32(&protoIDs, 0) // shorty_idx
		putU32(&protoIDs, 0) // return_type_idx
		putU32(&protoIDs, 0) // parameters_off (none)

		fieldIDsOff := protoIDsOff + uint32(protoIDs.Len())
		var fieldIDs bytes.Buffer
		putU16(&fieldIDs, 0) // class_idx
		putU16(&fieldIDs, 0) // type_idx
		putU32(&fieldIDs, 0) // name_idx

		methodIDsOff := fieldIDsOff + uint32(fieldIDs.Len())
		var methodIDs bytes.Buffer
		putU16(&methodIDs, 0) // class_idx
		putU16(&methodIDs, 0) // proto_idx
		putU32(&methodIDs, 0) // name_idx

		mapOff := methodIDsOff + uint32(methodIDs.Len())
		var mapList bytes.Buffer
		putU32(&mapList, 3) // 3 entries
		writeMapItem := func(typ uint16, off uint32) {
			putU16(&mapList, typ)
			putU16(&mapList, 0)
			putU32(&mapList, 1)
			putU32(&mapList, off)
		}
		writeMapItem(0x0001, stringIDsOff) // TYPE_STRING_ID_ITEM
		writeMapItem(0x0002, typeIDsOff)   // TYPE_TYPE_ID_ITEM
		writeMapItem(0x1000, mapOff)       // TYPE_MAP_LIST

		var all bytes.Buffer
		all.Write(b.Bytes())
		all.Write(strIDs.Bytes())
		all.Write(typeIDs.Bytes())
		all.Write(protoIDs.Bytes())
		all.Write(fieldIDs.Bytes())
		all.Write(methodIDs.Bytes())
		all.Write(mapList.Bytes())
		return all.Bytes(), stringIDsOff, typeIDsOff, protoIDsOff, fieldIDsOff, methodIDsOff, mapOff, nil
	}

	sections, stringIDsOff, typeIDsOff, protoIDsOff, fieldIDsOff, methodIDsOff, mapOff, _ := body(headerSize)

	var buf bytes.Buffer
	buf.WriteString("dex\n")
	buf.WriteString("035\x00")
	putU32(&buf, 0) // checksum placeholder
	buf.Write(make([]byte, 20))
	fileSize := headerSize + uint32(len(sections))
	putU32(&buf, fileSize)
	putU32(&buf, headerSize)
	putU32(&buf, endianTag)
	putU32(&buf, 0) // link_size
	putU32(&buf, 0) // link_off
	putU32(&buf, mapOff)
	putU32(&buf, 1) // string_ids_size
	putU32(&buf, stringIDsOff)
	putU32(&buf, 1) // type_ids_size
	putU32(&buf, typeIDsOff)
	putU32(&buf, 1) // proto_ids_size
	putU32(&buf, protoIDsOff)
	putU32(&buf, 1) // field_ids_size
	putU32(&buf, fieldIDsOff)
	putU32(&buf, 1) // method_ids_size
	putU32(&buf, methodIDsOff)
	putU32(&buf, 0) // class_defs_size
	putU32(&buf, 0) // class_defs_off
	putU32(&buf, uint32(len(sections)))
	putU32(&buf, headerSize)
	buf.Write(sections)

	out := buf.Bytes()
	if len(out) != int(fileSize) {
		t.Fatalf("fixture size mismatch: %d vs file_size %d", len(out), fileSize)
	}

	// Stamp the real Adler-32 (over bytes [12:]) and SHA-1 (over [32:]).
	checksum := adler32.Checksum(out[12:])
	binary.LittleEndian.PutUint32(out[8:12], checksum)
	sig := sha1.Sum(out[32:])
	copy(out[12:32], sig[:])
	return out
}

func TestDEXWellFormed(t *testing.T) {
	data := buildFixture(t)
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("length = %d, want %d", res.Length, len(data))
	}
}

func TestDEXBadChecksum(t *testing.T) {
	data := buildFixture(t)
	data[8] ^= 0xFF
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on corrupted Adler-32")
	}
}

// TestDEXBadStringDataOff corrupts the lone string_ids entry to point past
// the file's declared end. A correct reader must fail instead of treating
// the out-of-bounds data_off as a valid zero-length string.
func TestDEXBadStringDataOff(t *testing.T) {
	data := buildFixture(t)
	const stringIDsOff = 115 // header (112) + uleb128(1) + "V" + NUL
	binary.LittleEndian.PutUint32(data[stringIDsOff:stringIDsOff+4], 0xFFFFFFF0)

	// Re-stamp the Adler-32/SHA-1 so the corrupted data_off is reached by
	// the string-table walk instead of being rejected by the checksum
	// check first.
	checksum := adler32.Checksum(data[12:])
	binary.LittleEndian.PutUint32(data[8:12], checksum)
	sig := sha1.Sum(data[32:])
	copy(data[12:32], sig[:])

	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on out-of-bounds string data_off")
	}
}

func TestDEXBadMagic(t *testing.T) {
	data := []byte("not a dex file padded out to be long enough for a header check")
	r := bytes.NewReader(data)
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, scanenv.Environment{})
	if res.Ok() {
		t.Fatalf("expected failure on bad magic")
	}
}
