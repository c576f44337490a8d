package xfmt

import (
	"io"

	kflate "github.com/klauspost/compress/flate"
)

// newFlateStream adapts klauspost/compress/flate for raw (headerless)
// DEFLATE streams: ZIP method 8 members and PAK-embedded deflate bodies.
func newFlateStream() Stream {
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		return kflate.NewReader(r), nil
	}}
}
