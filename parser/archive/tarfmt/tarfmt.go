// Package tarfmt implements the POSIX/GNU tar archive parser (spec.md
// §4.5, "Archives"): a sequence of 512-byte-block-aligned headers each
// followed by the member's data rounded up to the next 512-byte
// boundary, terminated by two consecutive all-zero blocks.
//
// No reference implementation of this format shipped in the retrieval
// pack's original_source — archives other than ZIP weren't part of
// that material — so this parser is grounded directly on the
// published ustar layout (IEEE Std 1003.1) and on the shared
// record-walking idiom archive/zip already establishes in this module
// (header struct per record, length-prefixed body, explicit
// end-of-archive sentinel rather than EOF).
package tarfmt

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
	formatName = "tar"
	blockSize  = 512
)

var ustarMagic = []byte("ustar")

// Parser implements carver.Parser for POSIX/GNU tar archives.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"tar"} }
func (Parser) Signatures() [][]byte { return nil } // magic sits at byte 257, not offset 0
func (Parser) PrettyName() string   { return "tar archive" }

type member struct {
	name       string
	size       int64
	typeflag   byte
	dataOffset int64
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < blockSize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "tar: not enough data for header block"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	var members []member
	pendingLongName := ""
	sawAny := false

	for {
		if cerr := ctx.Err(); cerr != nil {
			return carver.Fail(c.Pos(), true, cerr.Error())
		}
		if c.Remaining() < blockSize {
			if !sawAny {
				return carver.FromError(errtax.BadStructuref(offset, "tar: no valid header block"))
			}
			break
		}
		header, err := c.Bytes(blockSize)
		if err != nil {
			return carver.FromError(err)
		}
		if allZero(header) {
			// A second all-zero block confirms the end-of-archive marker;
			// a truncated archive missing it is tolerated since the member
			// data already parsed is still valid.
			if c.Remaining() >= blockSize {
				if trailer, terr := c.Peek(blockSize); terr == nil && allZero(trailer) {
					c.Advance(blockSize)
				}
			}
			break
		}
		if string(header[257:262]) != string(ustarMagic) {
			if !sawAny {
				return carver.FromError(errtax.BadMagicf(c.Pos()-blockSize, "tar: missing ustar magic in header"))
			}
			c.Seek(c.Pos() - blockSize)
			break
		}

		chksumField := string(header[148:156])
		wantChksum, perr := parseOctal(chksumField)
		if perr != nil {
			return carver.FromError(errtax.BadFieldf(c.Pos()-blockSize+148, "tar: unparsable checksum field"))
		}
		gotChksum := checksum(header)
		if gotChksum != wantChksum {
			return carver.FromError(errtax.BadChecksumf(c.Pos()-blockSize+148, "tar: header checksum mismatch"))
		}

		name := cstr(header[0:100])
		sizeField := string(header[124:136])
		size, perr := parseOctal(sizeField)
		if perr != nil {
			return carver.FromError(errtax.BadFieldf(c.Pos()-blockSize+124, "tar: unparsable size field"))
		}
		typeflag := header[156]

		prefix := cstr(header[345:500])
		if prefix != "" {
			name = prefix + "/" + name
		}

		dataOffset := c.Pos()
		paddedSize := roundUp(size, blockSize)
		if dataOffset+paddedSize > filesize {
			return carver.FromError(errtax.NotEnoughDataf(dataOffset, "tar: member data extends past end of file"))
		}

		switch typeflag {
		case 'L': // GNU long name: body is the next member's real name
			body, err := c.Bytes(int(paddedSize))
			if err != nil {
				return carver.FromError(err)
			}
			pendingLongName = cstr(body[:size])
		case 'K': // GNU long link name, not used for artifact naming; skip its body
			if err := c.Advance(paddedSize); err != nil {
				return carver.FromError(err)
			}
		default:
			if pendingLongName != "" {
				name = pendingLongName
				pendingLongName = ""
			}
			members = append(members, member{name: name, size: size, typeflag: typeflag, dataOffset: dataOffset})
			if err := c.Advance(paddedSize); err != nil {
				return carver.FromError(err)
			}
		}
		sawAny = true
	}

	length := c.Pos() - offset
	labels := label.NewSet(formatName, label.Filesystem)

	if carver.WholeFile(offset, length, filesize) {
		if werr := extractMembers(region, members, env.OutputDirectory); werr != nil {
			return carver.FromError(werr)
		}
		artifacts := artifactsFor(members)
		return carver.Succeed(length, labels, artifacts, nil)
	}

	stagedRel := pathname.SingleFileName("tar")
	stagedPath := env.UnpackPath(stagedRel)
	if cerr := carveio.CopyRange(region, offset, length, stagedPath); cerr != nil {
		return carver.FromError(cerr)
	}
	artifacts := []carver.Artifact{{RelPath: stagedRel, Labels: labels.Union(label.NewSet(label.Unpacked))}}
	return carver.Succeed(length, labels, artifacts, nil)
}

func extractMembers(region carver.Region, members []member, outDir string) *errtax.Error {
	for _, m := range members {
		if m.typeflag != '0' && m.typeflag != 0 { // regular file only; directories/links/devices not materialized
			continue
		}
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

func roundUp(n, align int64) int64 {
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func cstr(b []byte) string {
	if i := indexZero(b); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), " ")
}

func indexZero(b []byte) int {
	for i, v := range b {
		if v == 0 {
			return i
		}
	}
	return -1
}

// parseOctal parses a tar numeric field: a NUL/space-terminated octal
// string, space-padded on either side.
func parseOctal(s string) (int64, error) {
	s = strings.Trim(s, " \x00")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 8, 64)
}

// checksum computes the ustar header checksum: the unsigned byte sum
// of the whole header with the checksum field itself treated as eight
// ASCII spaces.
func checksum(header []byte) int64 {
	var sum int64
	for i, b := range header {
		if i >= 148 && i < 156 {
			sum += int64(' ')
			continue
		}
		sum += int64(b)
	}
	return sum
}
