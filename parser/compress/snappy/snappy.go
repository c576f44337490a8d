// Package snappy implements the Snappy framed-stream compression parser
// (spec.md §4.5).
package snappy

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

const formatName = "snappy"

// The framed-stream identifier chunk: type 0xff, 3-byte length (6), then
// the literal "sNaPpY".
var signature = []byte{0xFF, 0x06, 0x00, 0x00, 's', 'N', 'a', 'P', 'p', 'Y'}

type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"sz"} }
func (Parser) Signatures() [][]byte { return [][]byte{signature} }
func (Parser) PrettyName() string   { return "Snappy framed compressed data" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(signature); err != nil {
		return carver.FromError(err)
	}
	c.Seek(offset)
	raw, err := c.Bytes(int(c.Remaining()))
	if err != nil {
		return carver.FromError(err)
	}
	st, oerr := xfmt.Open(xfmt.SnappyFrm, nil)
	if oerr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadField, offset, oerr, "snappy: opening adapter"))
	}
	decoded, derr := st.Feed(raw)
	if derr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadStructure, offset, derr, "snappy: decoding"))
	}

	length := filesize - offset
	labels := label.NewSet(formatName, label.Compressed)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	relName := pathname.SingleFileName("sz")
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
