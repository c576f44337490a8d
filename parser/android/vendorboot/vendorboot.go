// Package vendorboot implements the small index-driven vendor boot
// container formats spec.md §4.5 groups together under "Snapdragon
// boot / Huawei boot / nb0": an 8- or 4-byte magic, an entry count, a
// per-entry (name, offset, size) table, then the blobs themselves.
//
// Grounded on parser/android/tzdata's "fixed-stride index table,
// resolve each entry to an offset/length artifact" shape; the two
// magic widths are handled as one parameterized table rather than two
// near-duplicate packages since the body logic past the magic check is
// identical.
package vendorboot

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
	formatName   = "vendorboot"
	entryNameLen = 32
)

var magics = [][]byte{
	[]byte("SNAPDRAGON"[:8]), // Snapdragon boot: 8-byte magic
	[]byte("HUAWEI\x00\x00"), // Huawei boot: 8-byte magic, NUL-padded
	{0x4E, 0x42, 0x30, 0x00}, // nb0: 4-byte magic "NB0\0"
}

// Parser implements carver.Parser for the Snapdragon/Huawei/nb0 vendor
// boot container family.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"mbn", "nb0"} }
func (Parser) Signatures() [][]byte { return magics }
func (Parser) PrettyName() string   { return "vendor boot image container" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	head := make([]byte, 8)
	n, _ := region.ReadAt(head, offset)
	head = head[:n]

	magicLen := matchedMagicLen(head)
	if magicLen == 0 {
		return carver.FromError(errtax.BadMagicf(offset, "vendorboot: unrecognized magic"))
	}

	c := bcursor.New(region, offset, filesize-offset)
	if err := c.Advance(int64(magicLen)); err != nil {
		return carver.FromError(err)
	}
	count, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if count == 0 || count > 4096 {
		return carver.FromError(errtax.BadFieldf(offset, "vendorboot: implausible entry count %d", count))
	}

	type entry struct {
		name      string
		off, size uint32
	}
	entries := make([]entry, 0, count)
	for i := uint32(0); i < count; i++ {
		nameBuf, err := c.Bytes(entryNameLen)
		if err != nil {
			return carver.FromError(err)
		}
		eoff, err := c.U32LE()
		if err != nil {
			return carver.FromError(err)
		}
		esize, err := c.U32LE()
		if err != nil {
			return carver.FromError(err)
		}
		if int64(eoff)+int64(esize) > filesize-offset {
			return carver.FromError(errtax.BadOffsetf(offset, "vendorboot: entry %d blob exceeds region", i))
		}
		entries = append(entries, entry{name: trimNUL(nameBuf), off: eoff, size: esize})
	}

	var maxEnd int64
	var artifacts []carver.Artifact
	for _, e := range entries {
		if end := int64(e.off) + int64(e.size); end > maxEnd {
			maxEnd = end
		}
		if e.name == "" || e.size == 0 {
			continue
		}
		rel, ok := pathname.Contain(e.name)
		if !ok {
			continue
		}
		buf := make([]byte, e.size)
		if _, rerr := region.ReadAt(buf, offset+int64(e.off)); rerr != nil {
			return carver.FromError(errtax.IOf(offset, rerr, "vendorboot: reading entry %q", e.name))
		}
		if werr := carveio.WriteFile(env.UnpackPath(rel), buf); werr != nil {
			return carver.FromError(werr)
		}
		artifacts = append(artifacts, carver.Artifact{RelPath: rel, Labels: label.NewSet(formatName, label.Android, label.Unpacked)})
	}

	if maxEnd > filesize-offset {
		maxEnd = filesize - offset
	}
	return carver.Succeed(maxEnd, label.Set{}, artifacts, nil)
}

func matchedMagicLen(head []byte) int {
	for _, m := range magics {
		if len(head) >= len(m) && string(head[:len(m)]) == string(m) {
			return len(m)
		}
	}
	return 0
}

func trimNUL(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
