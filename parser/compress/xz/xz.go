// Package xz implements the XZ compression-stream parser (spec.md §4.5).
package xz

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xfmt"
)

const formatName = "xz"

var signature = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"xz"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "XZ compressed data" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	raw, err := c.Bytes(int(c.Remaining()))
	if err != nil {
		return carver.FromError(err)
	}
	st, oerr := xfmt.Open(xfmt.XZ, nil)
	if oerr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadField, offset, oerr, "xz: opening adapter"))
	}
	decoded, derr := st.Feed(raw)
	if derr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadStructure, offset, derr, "xz: decoding"))
	}

	length := filesize - offset
	labels := label.NewSet(formatName, label.Compressed)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	relName := pathname.SingleFileName("xz")
	dest := env.UnpackPath(relName)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	decName := "unpacked.decoded"
	if werr := carveio.WriteFile(env.UnpackPath(decName), decoded); werr != nil {
		return carver.FromError(werr)
	}
	artifacts := []carver.Artifact{
		{RelPath: relName, Labels: labels.Union(label.NewSet(label.Unpacked))},
		{RelPath: decName, Labels: label.NewSet(label.Unpacked)},
	}
	return carver.Succeed(length, label.Set{}, artifacts, nil)
}
