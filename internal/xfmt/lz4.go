package xfmt

import (
	"io"

	"github.com/pierrec/lz4/v4"
)

// newLZ4Stream adapts pierrec/lz4/v4, a real ecosystem LZ4-frame decoder
// not present anywhere in the retrieved pack; named, not grounded, per
// SPEC_FULL.md's Domain Stack table.
func newLZ4Stream() Stream {
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		return lz4.NewReader(r), nil
	}}
}
