// Package ar implements the Unix "ar" archive parser (spec.md §4.5,
// "Archives"): an 8-byte magic followed by a tape of 60-byte ASCII
// headers, each immediately preceding its member's data and padded to
// an even byte boundary. Member names longer than 16 bytes are resolved
// through the GNU extended-name table (a member named "//"). BSD's inline
// "#1/<len>" names are not resolved: such a member keeps its raw header
// name, and its data still begins with the name bytes.
//
// No reference implementation of this format shipped in the retrieval
// pack's original_source, so this parser is grounded on the published
// ar header layout (System V/GNU `ar_hdr`) and on this module's own
// [[tarfmt]]/[[cpio]] packages for the record-walk shape shared by
// every linked-record archive format here.
package ar

import (
	"context"
	"path"
	"strconv"
	"strings"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName = "ar"
	headerSize = 60
)

var (
	globalMagic = []byte("!<arch>\n")
	headerEnd   = []byte{0x60, 0x0A} // trailing "`\n" every ar_hdr must carry
)

// Parser implements carver.Parser for Unix ar archives.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"a", "ar"} }
func (Parser) Signatures() [][]byte { return [][]byte{globalMagic} }
func (Parser) PrettyName() string   { return "Unix ar archive" }

type member struct {
	name       string
	size       int64
	dataOffset int64
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < int64(len(globalMagic)) {
		return carver.FromError(errtax.NotEnoughDataf(offset, "ar: not enough data for magic"))
	}
	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Magic(globalMagic); err != nil {
		return carver.FromError(err)
	}

	var members []member
	var extendedNames string // GNU "//" member: a blob of "name/\n"-terminated entries
	sawAny := false

	for c.Remaining() >= headerSize {
		if cerr := ctx.Err(); cerr != nil {
			return carver.Fail(c.Pos(), true, cerr.Error())
		}
		header, err := c.Bytes(headerSize)
		if err != nil {
			return carver.FromError(err)
		}
		if !bytesEq(header[58:60], headerEnd) {
			return carver.FromError(errtax.BadStructuref(c.Pos()-headerSize+58, "ar: missing header terminator"))
		}
		rawName := strings.TrimRight(string(header[0:16]), " ")
		sizeField := strings.TrimSpace(string(header[48:58]))
		size, perr := strconv.ParseInt(sizeField, 10, 64)
		if perr != nil {
			return carver.FromError(errtax.BadFieldf(c.Pos()-headerSize+48, "ar: unparsable size field"))
		}
		dataOffset := c.Pos()
		if dataOffset+size > filesize {
			return carver.FromError(errtax.NotEnoughDataf(dataOffset, "ar: member data extends past end of file"))
		}

		name, isSymbolTable, isExtTable := resolveName(rawName, header, &extendedNames, size)
		if err := c.Advance(size); err != nil {
			return carver.FromError(err)
		}
		if pad := evenPad(size); pad > 0 {
			if err := c.Advance(pad); err != nil {
				return carver.FromError(err)
			}
		}
		if isExtTable {
			data, rerr := readRange(region, dataOffset, size)
			if rerr != nil {
				return carver.FromError(rerr)
			}
			extendedNames = string(data)
			sawAny = true
			continue
		}
		if isSymbolTable {
			sawAny = true
			continue
		}
		members = append(members, member{name: name, size: size, dataOffset: dataOffset})
		sawAny = true
	}

	if !sawAny {
		return carver.FromError(errtax.BadStructuref(offset, "ar: no members found"))
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Filesystem)

	if carver.WholeFile(offset, length, filesize) {
		if werr := extractMembers(region, members, env.OutputDirectory); werr != nil {
			return carver.FromError(werr)
		}
		return carver.Succeed(length, labels, artifactsFor(members), nil)
	}

	stagedRel := pathname.SingleFileName("ar")
	stagedPath := env.UnpackPath(stagedRel)
	if cerr := carveio.CopyRange(region, offset, length, stagedPath); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: stagedRel, Labels: labels.Union(label.NewSet(label.Unpacked))}}
	return carver.Succeed(length, labels, artifacts, nil)
}

// resolveName handles two ar member-naming conventions: a plain "name/"
// for names under 16 bytes and GNU's "/<offset>" indirection into the
// "//" extended-name-table member. Any other name, including BSD's
// inline "#1/<len>", is returned as written in the header.
func resolveName(rawName string, header []byte, extendedNames *string, size int64) (name string, isSymbolTable, isExtTable bool) {
	switch {
	case rawName == "/":
		return "", true, false
	case rawName == "//":
		return "", false, true
	case strings.HasPrefix(rawName, "/"):
		off, err := strconv.ParseInt(rawName[1:], 10, 64)
		if err != nil || *extendedNames == "" || off < 0 || off >= int64(len(*extendedNames)) {
			return rawName, false, false
		}
		rest := (*extendedNames)[off:]
		if i := strings.Index(rest, "/\n"); i >= 0 {
			return rest[:i], false, false
		}
		return rest, false, false
	default:
		return strings.TrimSuffix(rawName, "/"), false, false
	}
}

func readRange(region carver.Region, offset, n int64) ([]byte, *errtax.Error) {
	c := bcursor.New(region, offset, n)
	return c.Bytes(int(n))
}

func evenPad(n int64) int64 {
	if n%2 != 0 {
		return 1
	}
	return 0
}

func extractMembers(region carver.Region, members []member, outDir string) *errtax.Error {
	for _, m := range members {
		if m.name == "" || m.size == 0 {
			continue
		}
		if werr := carveio.CopyRange(region, m.dataOffset, m.size, joinPath(outDir, m.name)); werr != nil {
			return werr
		}
	}
	return nil
}

func artifactsFor(members []member) []carver.Artifact {
	var out []carver.Artifact
	for _, m := range members {
		if m.name == "" {
			continue
		}
		out = append(out, carver.Artifact{RelPath: m.name, Labels: label.NewSet(label.Unpacked)})
	}
	return out
}

func joinPath(dir, name string) string {
	cleaned, ok := pathname.Contain(name)
	if !ok {
		cleaned = pathname.Clean(name)
	}
	return path.Join(dir, cleaned)
}

func bytesEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
