package xfmt

import (
	"io"

	kzstd "github.com/klauspost/compress/zstd"
)

// newZstdStream adapts klauspost/compress/zstd, the same package
// quay-claircore/pkg/tarfs/parse.go uses to transparently decompress
// zstd-compressed layers.
func newZstdStream() Stream {
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		d, err := kzstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	}}
}
