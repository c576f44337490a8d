// Package bcursor implements the bounded random-access cursor every parser
// reads a candidate region through: integer decoding with explicit
// endianness, and bounded, encoding-chained string reads. A Cursor never
// lets a parser read past the region's advertised filesize; spec.md's
// Invariant 1 ("consumed <= filesize - offset") is enforced here once
// instead of in every parser.
//
// Grounded on the manual io.NewSectionReader/binary.Read cursor style of
// quay-claircore/pkg/tarfs/parse.go and the header-walking helpers of
// javi11-rarlist/internal/parse.
package bcursor

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/carvex/carvex/internal/errtax"
)

// Cursor is a bounded reader over [base, base+limit) of an underlying
// io.ReaderAt. Position is always absolute within the underlying source;
// Pos()-base is the offset within the region.
type Cursor struct {
	r     io.ReaderAt
	base  int64 // absolute offset of the region's start
	limit int64 // absolute offset one past the region's end (<= filesize)
	pos   int64 // absolute current position
}

// New returns a Cursor bounded to [base, base+size) of r. size must not
// exceed filesize-base; callers (parsers) are responsible for deriving size
// from the filesize they were given.
func New(r io.ReaderAt, base, size int64) *Cursor {
	return &Cursor{r: r, base: base, limit: base + size, pos: base}
}

// Pos returns the current absolute position.
func (c *Cursor) Pos() int64 { return c.pos }

// Base returns the region's starting absolute offset.
func (c *Cursor) Base() int64 { return c.base }

// Len returns the region's declared size.
func (c *Cursor) Len() int64 { return c.limit - c.base }

// Remaining returns the number of bytes left to read in the region.
func (c *Cursor) Remaining() int64 { return c.limit - c.pos }

// Seek moves the cursor to an absolute position. Seeking outside
// [base, limit] (limit being the absolute end of the region) is a
// programming error (spec.md §4.2) and panics,
// mirroring the teacher's preference for failing loudly on internal
// invariant violations rather than threading an error return everywhere.
func (c *Cursor) Seek(abs int64) {
	if abs < c.base || abs > c.limit {
		panic(fmt.Sprintf("bcursor: seek %d outside [%d,%d]", abs, c.base, c.limit))
	}
	c.pos = abs
}

// SeekRel moves the cursor to a position relative to the region's base.
func (c *Cursor) SeekRel(rel int64) { c.Seek(c.base + rel) }

// Advance moves the cursor forward n bytes without reading, failing if
// that would cross the region boundary.
func (c *Cursor) Advance(n int64) *errtax.Error {
	if c.pos+n > c.limit {
		return errtax.NotEnoughDataf(c.pos, "advance %d bytes crosses region end", n)
	}
	c.pos += n
	return nil
}

func (c *Cursor) readAt(n int) ([]byte, *errtax.Error) {
	if c.pos+int64(n) > c.limit {
		return nil, errtax.NotEnoughDataf(c.pos, "need %d bytes, only %d remain", n, c.Remaining())
	}
	buf := make([]byte, n)
	read, err := c.r.ReadAt(buf, c.pos)
	if err != nil && err != io.EOF {
		return nil, errtax.IOf(c.pos, err, "read failed")
	}
	if read != n {
		return nil, errtax.NotEnoughDataf(c.pos, "short read: got %d of %d bytes", read, n)
	}
	c.pos += int64(n)
	return buf, nil
}

// Bytes reads n raw bytes and advances the cursor.
func (c *Cursor) Bytes(n int) ([]byte, *errtax.Error) { return c.readAt(n) }

// Peek reads n bytes without advancing the cursor.
func (c *Cursor) Peek(n int) ([]byte, *errtax.Error) {
	save := c.pos
	b, err := c.readAt(n)
	c.pos = save
	return b, err
}

// U8 reads one byte.
func (c *Cursor) U8() (uint8, *errtax.Error) {
	b, err := c.readAt(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16LE reads a little-endian uint16.
func (c *Cursor) U16LE() (uint16, *errtax.Error) {
	b, err := c.readAt(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U16BE reads a big-endian uint16.
func (c *Cursor) U16BE() (uint16, *errtax.Error) {
	b, err := c.readAt(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// U32LE reads a little-endian uint32.
func (c *Cursor) U32LE() (uint32, *errtax.Error) {
	b, err := c.readAt(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U32BE reads a big-endian uint32.
func (c *Cursor) U32BE() (uint32, *errtax.Error) {
	b, err := c.readAt(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// U64LE reads a little-endian uint64.
func (c *Cursor) U64LE() (uint64, *errtax.Error) {
	b, err := c.readAt(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// U64BE reads a big-endian uint64.
func (c *Cursor) U64BE() (uint64, *errtax.Error) {
	b, err := c.readAt(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Magic reads len(want) bytes and fails with BadMagic if they don't match.
func (c *Cursor) Magic(want []byte) *errtax.Error {
	got, err := c.readAt(len(want))
	if err != nil {
		return err
	}
	for i := range want {
		if got[i] != want[i] {
			return errtax.BadMagicf(c.pos-int64(len(want)), "expected % x, got % x", want, got)
		}
	}
	return nil
}

// MagicString is a convenience wrapper for ASCII magic values.
func (c *Cursor) MagicString(want string) *errtax.Error { return c.Magic([]byte(want)) }

// CString reads up to max bytes, stopping at the first NUL (which is
// consumed but not included in the result), and decodes them through the
// configured encoding chain.
func (c *Cursor) CString(max int) (string, *errtax.Error) {
	start := c.pos
	b, err := c.readAt(max)
	if err != nil {
		return "", err
	}
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	s, derr := decodeChain(b[:n])
	if derr != nil {
		return "", errtax.Wrap(errtax.BadField, start, derr, "undecodable string")
	}
	return s, nil
}

// FixedString reads exactly n bytes and decodes them through the encoding
// chain without NUL trimming (for fixed-width name fields).
func (c *Cursor) FixedString(n int) (string, *errtax.Error) {
	start := c.pos
	b, err := c.readAt(n)
	if err != nil {
		return "", err
	}
	s, derr := decodeChain(b)
	if derr != nil {
		return "", errtax.Wrap(errtax.BadField, start, derr, "undecodable string")
	}
	return s, nil
}
