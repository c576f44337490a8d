// Package xsum implements the Checksum Adapters component (spec.md §4.3):
// Adler-32, CRC-32 (standard and the JFFS2 variant), SHA-1, and MD5,
// uniformly exposed as incremental updaters.
//
// Grounded on quay-claircore/digest.go, which wraps crypto/sha256 and
// crypto/sha512 behind a small algorithm-agnostic Digest type; there is no
// ecosystem checksum library anywhere in the retrieved pack, so — like the
// teacher — this stays on the standard library.
package xsum

import (
	"crypto/md5"
	"crypto/sha1"
	"hash"
	"hash/adler32"
	"hash/crc32"
)

// Updater is the uniform incremental-checksum interface every adapter
// implements.
type Updater interface {
	Update(b []byte)
	Finalize() []byte
}

type stdHash struct{ h hash.Hash }

func (s *stdHash) Update(b []byte)   { s.h.Write(b) }
func (s *stdHash) Finalize() []byte  { return s.h.Sum(nil) }

// NewAdler32 returns an Adler-32 incremental updater (DEX, zlib streams).
func NewAdler32() Updater { return &stdHash{h: adler32.New()} }

// NewCRC32 returns a standard (zlib-polynomial, all-zero init) CRC-32
// updater.
func NewCRC32() Updater { return &stdHash{h: crc32.NewIEEE()} }

// NewSHA1 returns a SHA-1 incremental updater (DEX signature).
func NewSHA1() Updater { return &stdHash{h: sha1.New()} }

// NewMD5 returns an MD5 incremental updater.
func NewMD5() Updater { return &stdHash{h: md5.New()} }

// jffs2CRC implements the JFFS2 node-header CRC variant: a standard
// CRC-32/IEEE polynomial but initialized with all-ones and XORed with
// all-ones at the end, matching the JFFS2 specification's convention
// (distinct from zlib's CRC-32, which both inits and finalizes with the
// same all-ones XOR but is otherwise identical in polynomial — the
// difference that matters here is that callers must not reuse a generic
// CRC-32 "reset to zero" helper).
type jffs2CRC struct {
	crc uint32
}

// NewJFFS2CRC returns the JFFS2 CRC-32 variant updater: init=0xFFFFFFFF,
// final XOR=0xFFFFFFFF, matching every JFFS2 node header's `hdr_crc`/`node_crc`
// field (spec.md §4.3, §4.5 "JFFS2").
func NewJFFS2CRC() Updater {
	return &jffs2CRC{crc: 0xFFFFFFFF}
}

func (j *jffs2CRC) Update(b []byte) {
	j.crc = crc32.Update(j.crc^0xFFFFFFFF, crc32.IEEETable, b) ^ 0xFFFFFFFF
}

func (j *jffs2CRC) Finalize() []byte {
	v := j.crc ^ 0xFFFFFFFF
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// FinalizeUint32 is a convenience accessor returning the JFFS2 CRC as a
// little-endian uint32 instead of a byte slice, matching how parsers
// compare it directly against a decoded header field.
func (j *jffs2CRC) FinalizeUint32() uint32 { return j.crc ^ 0xFFFFFFFF }
