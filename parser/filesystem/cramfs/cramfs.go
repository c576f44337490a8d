// Package cramfs implements the cramfs filesystem parser (spec.md §4.5,
// "cramfs"): endianness-detected header validation native to this
// module, content extraction delegated to the `fsck.cramfs` external
// tool gateway (spec.md §6.3).
//
// Grounded on the shared six-step skeleton plus internal/extool, in the
// same stage-then-walk shape parser/filesystem/squashfs and
// parser/filesystem/ext2 both use.
package cramfs

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
	formatName  = "cramfs"
	headerSize  = 64
	toolTimeout = 2 * time.Minute
)

// Parser implements carver.Parser for cramfs.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"cramfs", "img"} }
func (Parser) Signatures() [][]byte {
	return [][]byte{{0x45, 0x3d, 0xcd, 0x28}, {0x28, 0xcd, 0x3d, 0x45}}
}
func (Parser) PrettyName() string { return "cramfs filesystem image" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < headerSize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "cramfs: region too small for superblock"))
	}
	c := bcursor.New(region, offset, headerSize)

	magic, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	var u32 func() (uint32, *errtax.Error)
	switch {
	case magic[0] == 0x45 && magic[1] == 0x3d && magic[2] == 0xcd && magic[3] == 0x28:
		u32 = c.U32LE
	case magic[0] == 0x28 && magic[1] == 0xcd && magic[2] == 0x3d && magic[3] == 0x45:
		u32 = c.U32BE
	default:
		return carver.FromError(errtax.BadMagicf(offset, "cramfs: bad magic %x", magic))
	}

	size, err := u32()
	if err != nil {
		return carver.FromError(err)
	}
	if int64(size) > filesize-offset {
		return carver.FromError(errtax.BadFieldf(offset, "cramfs: declared size %d exceeds region", size))
	}
	if _, err := u32(); err != nil { // flags
		return carver.FromError(err)
	}
	if _, err := u32(); err != nil { // future
		return carver.FromError(err)
	}
	if _, err := c.Bytes(16); err != nil { // signature, literally "Compressed ROMFS"
		return carver.FromError(err)
	}
	if _, err := u32(); err != nil { // crc
		return carver.FromError(err)
	}
	edition, err := u32()
	if err != nil {
		return carver.FromError(err)
	}
	if edition != 0 && edition != 1 {
		return carver.FromError(errtax.BadVersionf(offset, "cramfs: unknown edition %d", edition))
	}

	if !extool.Available(extool.FsckCramfs) {
		return carver.FromError(errtax.New(errtax.ExternalToolUnavailable, offset, "cramfs: fsck.cramfs not found on PATH"))
	}

	length := int64(size)
	var artifacts []carver.Artifact
	serr := stage.Scope(env.TemporaryDirectory, "cramfs-*.img", func(f *stage.File) error {
		buf := make([]byte, length)
		if _, rerr := region.ReadAt(buf, offset); rerr != nil {
			return rerr
		}
		if _, werr := f.Write(buf); werr != nil {
			return werr
		}

		outDir := env.UnpackPath(".")
		if _, terr := extool.Run(ctx, extool.FsckCramfs, toolTimeout, "-x", outDir, f.Name()); terr != nil {
			return terr
		}
		return filepath.WalkDir(outDir, func(path string, d fs.DirEntry, werr error) error {
			if werr != nil || d.IsDir() {
				return werr
			}
			artifacts = append(artifacts, carver.Artifact{
				RelPath: env.RelUnpackPath(path),
				Labels:  label.NewSet(formatName, label.Filesystem, label.Unpacked),
			})
			return nil
		})
	})
	if serr != nil {
		if terr, ok := serr.(*errtax.Error); ok {
			return carver.FromError(terr)
		}
		return carver.FromError(errtax.IOf(offset, serr, "cramfs: extraction failed"))
	}

	return carver.Succeed(length, label.Set{}, artifacts, nil)
}
