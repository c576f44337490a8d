// Package cbfs implements the coreboot CBFS parser (spec.md §4.5,
// "coreboot CBFS"): a linear sequence of 64-byte-aligned components,
// each prefixed by the literal magic `LARCHIVE`, one of which carries
// the `ORBC` master header describing the overall ROM layout.
//
// Grounded on parser/android/vendorboot's flat name/offset/size table
// walk, generalized here to a self-terminating chain (each component's
// own length determines where the next one starts) instead of an
// upfront count, the same shape parser/filesystem/romfs's next-header
// chain uses.
package cbfs

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
	formatName   = "cbfs"
	componentMagic = "LARCHIVE"
	headerMagic  = "ORBC"
	alignment    = 64
	fixedHdrLen  = 24 // magic(8) + length(4) + type(4) + checksum(4) + data-offset(4)
)

// Parser implements carver.Parser for coreboot CBFS images.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"cbfs", "rom"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte(componentMagic)} }
func (Parser) PrettyName() string   { return "coreboot CBFS image" }

type masterHeader struct {
	version        uint32
	romSize        uint32
	bootBlockSize  uint32
	align          uint32
	firstBlockOff  uint32
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	var artifacts []carver.Artifact
	var header *masterHeader
	var headerOK bool

	pos := offset
	for {
		if pos%alignment != 0 {
			return carver.FromError(errtax.BadFieldf(offset, "cbfs: component at %d is not 64-byte aligned", pos))
		}
		if pos+fixedHdrLen > filesize {
			break
		}
		peek := make([]byte, len(componentMagic))
		if _, err := region.ReadAt(peek, pos); err != nil || string(peek) != componentMagic {
			break // end of the component chain
		}

		c := bcursor.New(region, pos, filesize-pos)
		if err := c.Advance(int64(len(componentMagic))); err != nil {
			return carver.FromError(err)
		}
		length, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		if err := c.Advance(4); err != nil { // component type, not consulted: ORBC-magic detection identifies the header
			return carver.FromError(err)
		}
		if _, err := c.U32BE(); err != nil { // checksum, not independently re-verified
			return carver.FromError(err)
		}
		dataOffset, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		if dataOffset < fixedHdrLen {
			return carver.FromError(errtax.BadFieldf(offset, "cbfs: component data-offset %d smaller than its own fixed header", dataOffset))
		}
		nameLen := int64(dataOffset) - fixedHdrLen
		name, err := c.FixedString(int(nameLen))
		if err != nil {
			return carver.FromError(err)
		}
		name = trimNUL(name)

		dataStart := pos + int64(dataOffset)
		if dataStart+int64(length) > filesize {
			return carver.FromError(errtax.NotEnoughDataf(offset, "cbfs: component %q data extends past region", name))
		}

		mh, isHdr, herr := tryMasterHeader(region, dataStart, int64(length))
		if herr != nil {
			return carver.FromError(herr)
		}
		switch {
		case isHdr && !headerOK:
			header = mh
			headerOK = true
			if mh.align != alignment {
				return carver.FromError(errtax.BadFieldf(offset, "cbfs: master header alignment %d, want %d", mh.align, alignment))
			}
		case !isHdr && name != "":
			if rel, ok := pathname.Contain(name); ok {
				buf := make([]byte, length)
				if _, rerr := region.ReadAt(buf, dataStart); rerr != nil {
					return carver.FromError(errtax.IOf(offset, rerr, "cbfs: reading component %q", name))
				}
				if werr := carveio.WriteFile(env.UnpackPath(rel), buf); werr != nil {
					return carver.FromError(werr)
				}
				artifacts = append(artifacts, carver.Artifact{RelPath: rel, Labels: label.NewSet(label.Unpacked)})
			}
		}

		next := pos + roundUp(int64(dataOffset)+int64(length), alignment)
		if next <= pos {
			break
		}
		pos = next
	}

	if !headerOK {
		return carver.FromError(errtax.BadStructuref(offset, "cbfs: no ORBC master header found among components"))
	}

	length := pos - offset
	if length > filesize-offset || length <= 0 {
		length = filesize - offset
	}
	labels := label.NewSet(formatName, label.Filesystem)
	meta := map[string]any{
		"rom_size":         header.romSize,
		"boot_block_size":  header.bootBlockSize,
		"align":            header.align,
		"first_block_offset": header.firstBlockOff,
	}
	return carver.Succeed(length, labels, artifacts, meta)
}

func tryMasterHeader(region carver.Region, dataStart, length int64) (*masterHeader, bool, *errtax.Error) {
	if length < 4 {
		return nil, false, nil
	}
	magic := make([]byte, 4)
	if _, err := region.ReadAt(magic, dataStart); err != nil {
		return nil, false, errtax.IOf(dataStart, err, "cbfs: reading component magic")
	}
	if string(magic) != headerMagic {
		return nil, false, nil
	}
	if length < 24 {
		return nil, false, errtax.NotEnoughDataf(dataStart, "cbfs: ORBC header shorter than 24 bytes")
	}
	c := bcursor.New(region, dataStart+4, length-4)
	var mh masterHeader
	var err *errtax.Error
	if mh.version, err = c.U32BE(); err != nil {
		return nil, true, err
	}
	if mh.romSize, err = c.U32BE(); err != nil {
		return nil, true, err
	}
	if mh.bootBlockSize, err = c.U32BE(); err != nil {
		return nil, true, err
	}
	if mh.align, err = c.U32BE(); err != nil {
		return nil, true, err
	}
	if mh.firstBlockOff, err = c.U32BE(); err != nil {
		return nil, true, err
	}
	return &mh, true, nil
}

func roundUp(n, to int64) int64 { return (n + to - 1) / to * to }

func trimNUL(s string) string {
	for i, r := range s {
		if r == 0 {
			return s[:i]
		}
	}
	return s
}
