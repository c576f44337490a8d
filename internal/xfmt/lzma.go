package xfmt

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// newLZMAStream adapts ulikunitz/xz/lzma.NewReader for the classic framed
// .lzma container (13-byte header: 1 properties byte, 4-byte little-endian
// dictionary size, 8-byte uncompressed size or all-ones for "unknown").
func newLZMAStream() Stream {
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		return lzma.NewReader(r)
	}}
}

// rawHeader synthesizes the classic 13-byte LZMA header from an explicit
// dict-size/lc/lp/pb tuple, so a headerless "raw" stream (JFFS2 node
// bodies, D-Link ROMFS, squashfs LZMA blocks) can be read with the same
// lzma.NewReader used for framed streams, rather than depending on an
// uncertain raw-stream API surface. The properties-byte packing
// (pb*5+lp)*9+lc is the LZMA SDK's documented encoding.
func rawHeader(p RawParams) []byte {
	props := byte((p.PB*5+p.LP)*9 + p.LC)
	hdr := make([]byte, 13)
	hdr[0] = props
	binary.LittleEndian.PutUint32(hdr[1:5], p.DictSize)
	for i := 5; i < 13; i++ {
		hdr[i] = 0xFF // unknown uncompressed size
	}
	return hdr
}

// newLZMARawStream wraps a raw LZMA1 body (no header) by prepending a
// synthesized classic header built from the caller-supplied RawParams.
func newLZMARawStream(p RawParams) (Stream, error) {
	hdr := rawHeader(p)
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		return lzma.NewReader(io.MultiReader(bytes.NewReader(hdr), r))
	}}, nil
}
