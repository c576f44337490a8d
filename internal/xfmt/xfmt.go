// Package xfmt implements the Decompression Adapters component
// (spec.md §4.3): a uniform streaming interface over zlib, deflate-raw,
// gzip, LZMA1 (framed and raw), LZMA2/XZ, bzip2, zstd, LZ4, and snappy.
// LZO has a Codec name, but Open reports it as unsupported.
//
// Grounded on quay-claircore/pkg/tarfs/parse.go and pool.go, which wrap
// klauspost/compress/{gzip,zstd} behind a small decompressor interface to
// transparently read compressed tar layers; xfmt generalizes that same
// "one small interface, many codecs" shape to every codec spec.md names.
package xfmt

import (
	"bytes"
	"io"

	"github.com/carvex/carvex/internal/errtax"
)

// Codec names a supported compression format, used for error messages and
// adapter selection.
type Codec string

const (
	Zlib       Codec = "zlib"
	DeflateRaw Codec = "deflate-raw"
	Gzip       Codec = "gzip"
	Bzip2      Codec = "bzip2"
	LZMA1      Codec = "lzma1"
	LZMARaw    Codec = "lzma-raw"
	XZ         Codec = "xz"
	Zstd       Codec = "zstd"
	LZ4Frame   Codec = "lz4"
	SnappyFrm  Codec = "snappy"
	LZO        Codec = "lzo"
)

// Stream is the uniform interface every adapter implements, matching
// spec.md §4.3's feed/finish/bytes_unused shape. Unlike a raw io.Reader,
// Stream exposes how many trailing bytes of the last Feed call were not
// consumed by the underlying codec, which parsers need to compute the
// exact number of bytes the compressed region occupied (spec.md's "Length
// honesty" property).
type Stream interface {
	// Feed supplies the next chunk of compressed bytes, returning
	// whatever plaintext could be produced from it.
	Feed(b []byte) (decoded []byte, err error)
	// Finish signals end of input and returns any remaining buffered
	// plaintext.
	Finish() (decoded []byte, err error)
	// BytesUnused reports how many bytes at the tail of the most recent
	// Feed call were not part of the compressed stream (e.g. trailing
	// garbage after a gzip member). Every adapter in this package is built
	// on bufferedStream, which does not track this count and always
	// reports 0.
	BytesUnused() int64
}

// RawParams carries the explicit dict-size/lc/lp/pb tuple a headerless
// LZMA1/LZMA2 raw stream needs (spec.md §4.3), since raw streams carry no
// embedded properties byte the way the classic .lzma container does.
type RawParams struct {
	DictSize uint32
	LC, LP, PB int
}

// Open returns a Stream adapter for the given codec. For LZMARaw, params
// must be non-nil.
func Open(codec Codec, params *RawParams) (Stream, error) {
	switch codec {
	case Zlib:
		return newZlibStream(), nil
	case DeflateRaw:
		return newFlateStream(), nil
	case Gzip:
		return newGzipStream(), nil
	case Bzip2:
		return newBzip2Stream(), nil
	case LZMA1:
		return newLZMAStream(), nil
	case LZMARaw:
		if params == nil {
			return nil, errtax.New(errtax.BadField, 0, "lzma-raw requires explicit dict/lc/lp/pb params")
		}
		return newLZMARawStream(*params)
	case XZ:
		return newXZStream(), nil
	case Zstd:
		return newZstdStream(), nil
	case LZ4Frame:
		return newLZ4Stream(), nil
	case SnappyFrm:
		return newSnappyStream(), nil
	case LZO:
		return nil, errtax.New(errtax.UnsupportedFeature, 0, "lzo decompression is not implemented: no pure-Go decoder in the dependency pack")
	default:
		return nil, errtax.New(errtax.BadField, 0, "unknown codec %q", codec)
	}
}

// bufferedStream is the base every adapter in this package is built on
// (gzip, zlib, flate, bzip2, xz, lzma, zstd, lz4, snappy): it buffers all
// fed bytes, lazily constructs the underlying reader on first Feed, and
// drains as much plaintext as is currently available. It does not record
// where the compressed stream ended, so BytesUnused always reports 0.
type bufferedStream struct {
	newReader func(io.Reader) (io.Reader, error)
	raw       *bytes.Buffer
	rdr       io.Reader
	unused    int64
}

func (s *bufferedStream) Feed(b []byte) ([]byte, error) {
	if s.raw == nil {
		s.raw = new(bytes.Buffer)
	}
	s.raw.Write(b)
	if s.rdr == nil {
		r, err := s.newReader(s.raw)
		if err != nil {
			// Not enough header bytes yet; wait for more Feed calls.
			return nil, nil
		}
		s.rdr = r
	}
	out, err := io.ReadAll(s.rdr)
	if err != nil && err != io.EOF {
		return out, errtax.Wrap(errtax.BadStructure, 0, err, "decompression failed")
	}
	return out, nil
}

func (s *bufferedStream) Finish() ([]byte, error) { return nil, nil }

func (s *bufferedStream) BytesUnused() int64 { return s.unused }
