package xfmt

import (
	"compress/bzip2"
	"io"
)

// newBzip2Stream uses the standard library decoder: bzip2 has no write
// side in Go's stdlib and no ecosystem alternative appears anywhere in the
// retrieved pack, so — as with the checksum adapters — idiomatic Go here
// is the standard library.
func newBzip2Stream() Stream {
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		return bzip2.NewReader(r), nil
	}}
}
