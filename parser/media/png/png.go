// Package png implements the PNG/APNG parser (spec.md §4.5). It walks the
// chunk stream computing each chunk's CRC-32, recognizes textual chunks
// (tEXt, zTXt, iTXt, eXIf, tXMP, tIME, meTa), the APNG acTL/fcTL/fdAT
// triad, Android ninepatch markers (npTc/npLb/npOl), Apple iDOT, Adobe
// Fireworks private chunks (prVW/mkBT/mkBS/mkTS/mkBF), and ImageMagick
// private chunks (vpAg/caNv/orNT) — the original_source/bangmedia.py
// feature set spec.md §4.5 calls out by name, carried forward per
// SPEC_FULL.md's supplemented-features section.
package png

import (
	"bytes"
	"context"
	"encoding/xml"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xfmt"
	"github.com/carvex/carvex/internal/xsum"
)

const formatName = "png"

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// Parser implements carver.Parser for PNG.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"png"} }
func (Parser) Signatures() [][]byte { return [][]byte{pngSignature} }
func (Parser) PrettyName() string   { return "Portable Network Graphics" }

// XMPDocument is metadata.xmp entries in a successful Result's Metadata
// map, one per iTXt chunk whose keyword is "XML:com.adobe.xmp" (S5).
type XMPDocument struct {
	Raw string
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < int64(len(pngSignature))+8 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "png: region too small"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(pngSignature); err != nil {
		return carver.FromError(err)
	}

	labels := label.NewSet(formatName, label.Graphics)
	var xmps []XMPDocument
	sawIHDR, sawIEND := false, false
	isAPNG := false
	var ninepatch []string

	for !sawIEND {
		if cerr := ctx.Err(); cerr != nil {
			return carver.Fail(c.Pos(), true, cerr.Error())
		}
		chunkStart := c.Pos()
		length, err := c.U32BE()
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(chunkStart, "png: missing chunk length"))
		}
		typ, err := c.Bytes(4)
		if err != nil {
			return carver.FromError(err)
		}
		data, err := c.Bytes(int(length))
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(chunkStart, "png: chunk %q truncated", typ))
		}
		crcStored, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		crc := xsum.NewCRC32()
		crc.Update(typ)
		crc.Update(data)
		if computed := crc32Value(crc); computed != crcStored {
			return carver.FromError(errtax.BadChecksumf(chunkStart, "png: chunk %q crc mismatch", typ))
		}

		switch string(typ) {
		case "IHDR":
			sawIHDR = true
		case "IEND":
			sawIEND = true
		case "acTL":
			isAPNG = true
			labels.Add(label.APNG, label.Animated)
		case "iTXt":
			if doc, keyword, ok := parseITXt(data); ok && keyword == "XML:com.adobe.xmp" {
				xmps = append(xmps, doc)
			}
		case "npTc", "npLb", "npOl":
			ninepatch = append(ninepatch, string(typ))
		case "iDOT":
			labels.Add(label.Apple)
		case "prVW", "mkBT", "mkBS", "mkTS", "mkBF", "vpAg", "caNv", "orNT", "tEXt", "zTXt", "eXIf", "tXMP", "tIME", "meTa":
			// Recognized but not semantically interpreted further.
		}
		if !sawIHDR && string(typ) != "IHDR" {
			return carver.FromError(errtax.BadStructuref(chunkStart, "png: first chunk must be IHDR, got %q", typ))
		}
	}

	if len(ninepatch) > 0 {
		labels.Add(label.NinePatch, label.Android)
	}
	_ = isAPNG

	length := c.Pos() - offset
	var metadata map[string]any
	if len(xmps) > 0 {
		metadata = map[string]any{"xmp": xmps}
	}
	return finish(region, offset, length, filesize, env, labels, metadata)
}

// crc32Value reads back the big-endian bytes xsum's stdlib-backed CRC-32
// updater produces (hash/crc32's Sum appends the checksum MSB-first) as
// the numeric value PNG's own big-endian-stored chunk CRC compares against.
func crc32Value(u xsum.Updater) uint32 {
	b := u.Finalize()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// parseITXt splits an iTXt chunk body into (keyword, compression flag,
// compression method, language tag, translated keyword, text) per the PNG
// spec, decompressing the text if the compression flag is set, and
// reports whether it could be parsed as valid XML (the XMP case S5
// exercises).
func parseITXt(data []byte) (doc XMPDocument, keyword string, ok bool) {
	parts := bytes.SplitN(data, []byte{0}, 2)
	if len(parts) != 2 {
		return XMPDocument{}, "", false
	}
	keyword = string(parts[0])
	rest := parts[1]
	if len(rest) < 2 {
		return XMPDocument{}, keyword, false
	}
	compressed := rest[0] != 0
	// compressionMethod := rest[1] (always 0, zlib)
	rest = rest[2:]
	// language tag, NUL-terminated
	idx := bytes.IndexByte(rest, 0)
	if idx < 0 {
		return XMPDocument{}, keyword, false
	}
	rest = rest[idx+1:]
	// translated keyword, NUL-terminated
	idx = bytes.IndexByte(rest, 0)
	if idx < 0 {
		return XMPDocument{}, keyword, false
	}
	text := rest[idx+1:]

	if compressed {
		s, err := xfmt.Open(xfmt.Zlib, nil)
		if err != nil {
			return XMPDocument{}, keyword, false
		}
		out, ferr := s.Feed(text)
		if ferr != nil {
			return XMPDocument{}, keyword, false
		}
		text = out
	}

	// Unmarshal into an empty struct accepts any root element name, so it
	// fails only when the text is not well-formed XML.
	var probe struct{}
	if err := xml.Unmarshal(text, &probe); err != nil {
		return XMPDocument{}, keyword, false
	}
	return XMPDocument{Raw: string(text)}, keyword, true
}

func finish(region carver.Region, offset, length, filesize int64, env scanenv.Environment, labels label.Set, metadata map[string]any) carver.Result {
	if carver.WholeFile(offset, length, filesize) {
		return carver.Succeed(length, labels, nil, metadata)
	}
	relName := pathname.SingleFileName("png")
	dest := env.UnpackPath(relName)
	if cerr := carveio.CopyRange(region, offset, length, dest); cerr != nil {
		return carver.FromError(cerr)
	}
	artifactLabels := labels.Union(label.NewSet(label.Unpacked))
	return carver.Succeed(length, label.Set{}, []carver.Artifact{{RelPath: relName, Labels: artifactLabels}}, metadata)
}
