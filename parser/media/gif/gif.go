// Package gif implements the GIF87a/GIF89a parser (spec.md §4.5, "Media
// formats"). It validates the logical screen descriptor, walks extension
// and image blocks without decoding LZW pixel data (carving only needs
// the exact byte extent, not the pixels), and stops at the trailer byte
// 0x3B.
//
// Grounded on the shared six-step parser skeleton of spec.md §4.4,
// instantiated the way quay-claircore/apk/scanner.go instantiates the
// "size gate, validate, walk, build result" shape for its own format.
package gif

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName = "gif"
	minHeader  = 13 // 6-byte magic + 7-byte logical screen descriptor
)

var signatures = [][]byte{[]byte("GIF87a"), []byte("GIF89a")}

// Parser implements carver.Parser for GIF.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"gif"} }
func (Parser) Signatures() [][]byte { return signatures }
func (Parser) PrettyName() string   { return "Graphics Interchange Format" }

const (
	trailer             = 0x3B
	extensionIntroducer = 0x21
	imageSeparator      = 0x2C
)

// Parse implements carver.Parser.
func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < minHeader {
		return carver.FromError(errtax.NotEnoughDataf(offset, "gif: region too small for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	magic, err := c.Bytes(6)
	if err != nil {
		return carver.FromError(err)
	}
	if string(magic) != "GIF87a" && string(magic) != "GIF89a" {
		return carver.FromError(errtax.BadMagicf(offset, "gif: bad signature %q", magic))
	}

	if _, err := c.U16LE(); err != nil { // screen width
		return carver.FromError(err)
	}
	if _, err := c.U16LE(); err != nil { // screen height
		return carver.FromError(err)
	}
	packed, err := c.U8()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U8(); err != nil { // background color index
		return carver.FromError(err)
	}
	if _, err := c.U8(); err != nil { // pixel aspect ratio
		return carver.FromError(err)
	}

	if packed&0x80 != 0 {
		gctSize := 3 * (1 << ((packed & 0x07) + 1))
		if err := c.Advance(int64(gctSize)); err != nil {
			return carver.FromError(err)
		}
	}

	for {
		if cerr := ctx.Err(); cerr != nil {
			return carver.Fail(c.Pos(), true, cerr.Error())
		}
		b, err := c.U8()
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "gif: missing trailer"))
		}
		switch b {
		case trailer:
			length := c.Pos() - offset
			return finish(region, offset, length, filesize, env)
		case extensionIntroducer:
			if err := parseExtension(c); err != nil {
				return carver.FromError(err)
			}
		case imageSeparator:
			if err := parseImageBlock(c); err != nil {
				return carver.FromError(err)
			}
		default:
			return carver.FromError(errtax.BadStructuref(c.Pos()-1, "gif: unexpected block introducer 0x%02x", b))
		}
	}
}

func parseSubBlocks(c *bcursor.Cursor) *errtax.Error {
	for {
		n, err := c.U8()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if aerr := c.Advance(int64(n)); aerr != nil {
			return aerr
		}
	}
}

func parseExtension(c *bcursor.Cursor) *errtax.Error {
	if _, err := c.U8(); err != nil { // extension label; any value is tolerated
		return err
	}
	return parseSubBlocks(c)
}

func parseImageBlock(c *bcursor.Cursor) *errtax.Error {
	if err := c.Advance(8); err != nil { // left,top,width,height
		return err
	}
	packed, err := c.U8()
	if err != nil {
		return err
	}
	if packed&0x80 != 0 {
		lctSize := 3 * (1 << ((packed & 0x07) + 1))
		if aerr := c.Advance(int64(lctSize)); aerr != nil {
			return aerr
		}
	}
	if _, err := c.U8(); err != nil { // LZW minimum code size
		return err
	}
	return parseSubBlocks(c)
}

func finish(region carver.Region, offset, length, filesize int64, env scanenv.Environment) carver.Result {
	labels := label.NewSet(formatName, label.Graphics)
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, nil)
	}
	relName := pathname.SingleFileName("gif")
	dest := env.UnpackPath(relName)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifactLabels := label.NewSet(formatName, label.Graphics, label.Unpacked)
	return carver.Succeed(length, label.Set{}, []carver.Artifact{{RelPath: relName, Labels: artifactLabels}}, nil)
}
