package xfmt

import (
	"io"

	"github.com/golang/snappy"
)

// newSnappyStream adapts golang/snappy's framed-stream reader; like lz4,
// a real ecosystem package not present in the retrieved pack — named,
// not grounded, per SPEC_FULL.md.
func newSnappyStream() Stream {
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		return snappy.NewReader(r), nil
	}}
}
