// Package lz4 implements the LZ4 frame compression-stream parser
// (spec.md §4.5).
package lz4

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

const formatName = "lz4"

var signature = []byte{0x04, 0x22, 0x4D, 0x18}

type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"lz4"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "LZ4 frame compressed data" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	raw, err := c.Bytes(int(c.Remaining()))
	if err != nil {
		return carver.FromError(err)
	}
	st, oerr := xfmt.Open(xfmt.LZ4Frame, nil)
	if oerr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadField, offset, oerr, "lz4: opening adapter"))
	}
	decoded, derr := st.Feed(raw)
	if derr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadStructure, offset, derr, "lz4: decoding"))
	}

	length := filesize - offset
	labels := label.NewSet(formatName, label.Compressed)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	relName := pathname.SingleFileName("lz4")
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
