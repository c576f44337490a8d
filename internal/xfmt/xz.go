package xfmt

import (
	"io"

	"github.com/ulikunitz/xz"
)

// newXZStream adapts ulikunitz/xz.NewReader for the .xz container, whose
// payload is one or more LZMA2 chunks; this is the teacher's own
// dependency (quay-claircore's go.mod requires ulikunitz/xz directly).
func newXZStream() Stream {
	return &bufferedStream{newReader: func(r io.Reader) (io.Reader, error) {
		return xz.NewReader(r)
	}}
}
