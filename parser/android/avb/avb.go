// Package avb implements the Android Verified Boot vbmeta parser
// (spec.md §4.5, "Android Verified Boot (AVB)"): the 256-byte vbmeta
// header and its five (offset, size) sub-block descriptors.
//
// Grounded on the shared six-step skeleton; the (offset, size) sub-block
// table mirrors parser/android/dex's section-table bounds checking,
// generalized from nine DEX ID-table descriptors to AVB's five auth/aux
// sub-blocks.
package avb

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName = "avb"
	headerSize = 256
	padding    = 4096
	footerSize = 64
)

// Parser implements carver.Parser for the AVB vbmeta header.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"img"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("AVB0")} }
func (Parser) PrettyName() string   { return "Android Verified Boot metadata" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < headerSize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "avb: region too small for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	magic, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	if string(magic) != "AVB0" {
		return carver.FromError(errtax.BadMagicf(offset, "avb: bad magic %q", magic))
	}
	if _, err := c.U32BE(); err != nil { // major version
		return carver.FromError(err)
	}
	if _, err := c.U32BE(); err != nil { // minor version
		return carver.FromError(err)
	}

	authSize, err := c.U64BE()
	if err != nil {
		return carver.FromError(err)
	}
	auxSize, err := c.U64BE()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U32BE(); err != nil { // algorithm
		return carver.FromError(err)
	}

	type pair struct{ name string; off, size uint64 }
	pairs := make([]pair, 5)
	for i, name := range []string{"hash", "signature", "public_key", "public_key_metadata", "descriptors"} {
		o, err := c.U64BE()
		if err != nil {
			return carver.FromError(err)
		}
		s, err := c.U64BE()
		if err != nil {
			return carver.FromError(err)
		}
		pairs[i] = pair{name: name, off: o, size: s}
	}
	if _, err := c.U64BE(); err != nil { // rollback index
		return carver.FromError(err)
	}
	if _, err := c.U32BE(); err != nil { // flags
		return carver.FromError(err)
	}
	if err := c.Advance(4); err != nil { // reserved
		return carver.FromError(err)
	}
	if _, err := c.Bytes(48); err != nil { // release string
		return carver.FromError(err)
	}
	if err := c.Advance(80); err != nil { // reserved
		return carver.FromError(err)
	}

	authBlockStart := int64(headerSize)
	auxBlockStart := authBlockStart + int64(authSize)
	maxEnd := auxBlockStart + int64(auxSize)
	for _, p := range pairs {
		// Sub-block offsets are relative to the start of the aux block
		// (spec.md's "aux-block size" framing), except the first two
		// (hash, signature) which live in the auth block.
		var base int64
		if p.name == "hash" || p.name == "signature" {
			base = authBlockStart
		} else {
			base = auxBlockStart
		}
		end := base + int64(p.off) + int64(p.size)
		if end > maxEnd {
			maxEnd = end
		}
		if filesize-offset < end {
			return carver.FromError(errtax.BadOffsetf(offset, "avb: %s sub-block extends past region", p.name))
		}
	}

	length := maxEnd
	if rem := length % padding; rem != 0 {
		length += padding - rem
	}
	if length > filesize-offset {
		length = filesize - offset
	}

	labels := label.NewSet(formatName, label.Android)
	return carver.Succeed(length, labels, nil, nil)
}
