// Package backup implements the Android Backup (.ab) parser (spec.md
// §4.5, "Android backup"): a fixed ASCII header followed by a zlib
// stream whose decompressed payload is a POSIX tar.
//
// Grounded on parser/compress/gzip's "decode via internal/xfmt, fall
// back to the full remainder when the adapter can't report an exact
// consumed length" shape.
package backup

import (
	"bufio"
	"bytes"
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xfmt"
)

const (
	formatName = "android-backup"
	magic      = "ANDROID BACKUP\n"
)

// Parser implements carver.Parser for Android's .ab backup container.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"ab"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte(magic)} }
func (Parser) PrettyName() string   { return "Android backup archive" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	head := make([]byte, 4096)
	n, _ := region.ReadAt(head, offset)
	head = head[:n]
	if len(head) < len(magic) || string(head[:len(magic)]) != magic {
		return carver.FromError(errtax.BadMagicf(offset, "android-backup: bad magic"))
	}

	lines, rest, lerr := splitLines(head[len(magic):], 3)
	if lerr != nil {
		return carver.FromError(errtax.BadStructuref(offset, "android-backup: truncated header"))
	}
	if lines[0] != "1" {
		return carver.FromError(errtax.BadVersionf(offset, "android-backup: unsupported version %q", lines[0]))
	}
	if lines[1] != "1" {
		return carver.FromError(errtax.BadFieldf(offset, "android-backup: unsupported compression flag %q", lines[1]))
	}
	if lines[2] != "none" {
		return carver.FromError(errtax.New(errtax.UnsupportedFeature, offset, "android-backup: encrypted backups are not supported"))
	}

	headerLen := int64(len(head)) - int64(len(rest))

	st, oerr := xfmt.Open(xfmt.Zlib, nil)
	if oerr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadField, offset, oerr, "android-backup: opening zlib adapter"))
	}
	payload := make([]byte, filesize-offset-headerLen)
	if _, rerr := region.ReadAt(payload, offset+headerLen); rerr != nil {
		return carver.FromError(errtax.IOf(offset, rerr, "android-backup: reading compressed payload"))
	}
	decoded, derr := st.Feed(payload)
	if derr != nil {
		return carver.FromError(errtax.Wrap(errtax.BadStructure, offset, derr, "android-backup: inflating"))
	}
	if len(decoded) == 0 {
		return carver.FromError(errtax.BadStructuref(offset, "android-backup: empty decompressed payload"))
	}

	length := filesize - offset
	labels := label.NewSet(formatName, label.Android, label.Compressed)
	decName := "unpacked.tar"
	if werr := writeFile(env, decName, decoded); werr != nil {
		return carver.FromError(werr)
	}
	artifacts := []carver.Artifact{{RelPath: decName, Labels: label.NewSet(label.Unpacked)}}
	return carver.Succeed(length, labels, artifacts, nil)
}

func writeFile(env scanenv.Environment, rel string, data []byte) *errtax.Error {
	return carveio.WriteFile(env.UnpackPath(rel), data)
}

// splitLines reads exactly n newline-terminated ASCII lines from buf,
// returning the lines (without their trailing \n) and the unconsumed
// remainder.
func splitLines(buf []byte, n int) ([]string, []byte, error) {
	r := bufio.NewReader(bytes.NewReader(buf))
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, line[:len(line)-1])
	}
	rest, _ := r.Peek(r.Buffered())
	return lines, rest, nil
}
