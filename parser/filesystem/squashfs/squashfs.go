// Package squashfs implements the squashfs filesystem parser (spec.md
// §4.5, "Squashfs"): header validation native to this module, content
// extraction delegated to the `unsquashfs` external tool gateway
// (spec.md §6.3) since squashfs's block-compressed, many-codec inode
// graph is exactly the case design note §9 reserves for the gateway
// rather than a from-scratch decoder.
//
// Grounded on the shared six-step skeleton plus `internal/extool`'s
// shell-out wrapper; the stage-extract-walk sequence mirrors
// parser/archive/zip's staging of a carved region to a temporary file
// before re-opening it (spec.md §4.6 step 6), generalized here to
// staging for an external tool instead of Go's own zip reader.
package squashfs

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/extool"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/stage"
)

const (
	formatName  = "squashfs"
	minHeader   = 64
	toolTimeout = 2 * time.Minute
)

// Parser implements carver.Parser for squashfs.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"sqsh", "squashfs"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("hsqs"), []byte("sqsh")} }
func (Parser) PrettyName() string   { return "Squashfs filesystem image" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < minHeader {
		return carver.FromError(errtax.NotEnoughDataf(offset, "squashfs: region too small for superblock"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	magic, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	var order func() (uint16, *errtax.Error)
	var order64 func() (uint64, *errtax.Error)
	switch string(magic) {
	case "hsqs":
		order, order64 = c.U16LE, c.U64LE
	case "sqsh":
		order, order64 = c.U16BE, c.U64BE
	default:
		return carver.FromError(errtax.BadMagicf(offset, "squashfs: bad magic %q", magic))
	}

	if err := c.Advance(24); err != nil { // inode_count, mod_time, block_size, frag_count, compression, block_log, flags, no_ids — up to s_major
		return carver.FromError(err)
	}
	major, err := order()
	if err != nil {
		return carver.FromError(err)
	}
	if major < 1 || major > 4 {
		return carver.FromError(errtax.BadVersionf(offset, "squashfs: version %d outside 1..4", major))
	}
	if _, err := order(); err != nil { // s_minor
		return carver.FromError(err)
	}

	length := filesize - offset
	if major == 4 {
		// Squashfs 4's superblock carries root_inode (u64) then
		// bytes_used (u64) immediately after s_major/s_minor.
		if _, err := order64(); err != nil { // root_inode
			return carver.FromError(err)
		}
		bytesUsed, err := order64()
		if err != nil {
			return carver.FromError(err)
		}
		if int64(bytesUsed) > filesize-offset {
			return carver.FromError(errtax.BadFieldf(offset, "squashfs: bytes_used %d exceeds region", bytesUsed))
		}
		length = int64(bytesUsed)
	}

	if !extool.Available(extool.Unsquashfs) {
		return carver.FromError(errtax.New(errtax.ExternalToolUnavailable, offset, "squashfs: unsquashfs not found on PATH"))
	}

	var artifacts []carver.Artifact
	serr := stage.Scope(env.TemporaryDirectory, "squashfs-*.img", func(f *stage.File) error {
		buf := make([]byte, length)
		if _, rerr := region.ReadAt(buf, offset); rerr != nil {
			return rerr
		}
		if _, werr := f.Write(buf); werr != nil {
			return werr
		}

		outDir := env.UnpackPath(".")
		if _, terr := extool.Run(ctx, extool.Unsquashfs, toolTimeout, "-d", outDir, "-f", f.Name()); terr != nil {
			return terr
		}
		return filepath.WalkDir(outDir, func(path string, d fs.DirEntry, werr error) error {
			if werr != nil || d.IsDir() {
				return werr
			}
			rel := env.RelUnpackPath(path)
			artifacts = append(artifacts, carver.Artifact{
				RelPath: rel,
				Labels:  label.NewSet(formatName, label.Filesystem, label.Unpacked),
			})
			return nil
		})
	})
	if serr != nil {
		if terr, ok := serr.(*errtax.Error); ok {
			return carver.FromError(terr)
		}
		return carver.FromError(errtax.IOf(offset, serr, "squashfs: extraction failed"))
	}

	return carver.Succeed(length, label.Set{}, artifacts, nil)
}
