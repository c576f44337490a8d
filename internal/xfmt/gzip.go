package xfmt

import (
	"io"

	kgzip "github.com/klauspost/compress/gzip"
)

// newGzipStream adapts klauspost/compress/gzip, the same import
// quay-claircore/pkg/tarfs/parse.go uses to transparently decompress
// gzip-framed tar layers.
func newGzipStream() Stream {
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		return kgzip.NewReader(r)
	}}
}
