package xfmt

import (
	"io"

	kzlib "github.com/klauspost/compress/zlib"
)

// newZlibStream adapts klauspost/compress/zlib the way
// quay-claircore/pkg/tarfs wraps klauspost/compress/gzip: a drop-in
// replacement for the standard library reader used for PNG chunks,
// Android backup bodies, and zisofs blocks.
func newZlibStream() Stream {
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		return kzlib.NewReader(r)
	}}
}
