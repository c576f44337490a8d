// Package odex implements the Android ODEX (optimized DEX) parser
// (spec.md §4.5, "ODEX"): a 40-byte header naming three sections —
// an embedded DEX, a dependency table, and optimization data — whose
// embedded DEX is cross-checked against parser/android/dex's magic.
//
// Grounded on the shared six-step skeleton plus parser/android/dex,
// which this package calls into for its embedded DEX's header shape
// rather than re-deriving DEX's header layout a second time.
package odex

import (
	"context"
	"hash/adler32"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/parser/android/dex"
)

const (
	formatName = "odex"
	minHeader  = 40
)

// Parser implements carver.Parser for ODEX.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"odex"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("dey\n")} }
func (Parser) PrettyName() string   { return "Android ODEX (optimized DEX)" }

type section struct {
	off, size uint32
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < minHeader {
		return carver.FromError(errtax.NotEnoughDataf(offset, "odex: region too small for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	magic, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	if string(magic) != "dey\n" {
		return carver.FromError(errtax.BadMagicf(offset, "odex: bad magic %q", magic))
	}
	verBytes, err := c.Bytes(4)
	if err != nil {
		return carver.FromError(err)
	}
	if string(verBytes) != "036\x00" {
		return carver.FromError(errtax.BadVersionf(offset, "odex: unsupported version %q", verBytes))
	}

	dexSec, serr := readSection(c)
	if serr != nil {
		return carver.FromError(serr)
	}
	depsSec, serr := readSection(c)
	if serr != nil {
		return carver.FromError(serr)
	}
	optSec, serr := readSection(c)
	if serr != nil {
		return carver.FromError(serr)
	}
	if _, serr := c.U32LE(); serr != nil { // flags
		return carver.FromError(serr)
	}
	checksum, serr := c.U32LE()
	if serr != nil {
		return carver.FromError(serr)
	}

	for name, s := range map[string]section{"dex": dexSec, "deps": depsSec, "opt": optSec} {
		if int64(s.off) < minHeader || int64(s.off)+int64(s.size) > filesize-offset {
			return carver.FromError(errtax.BadOffsetf(offset, "odex: %s section [%d,+%d) outside region", name, s.off, s.size))
		}
	}

	// deps and opt are only adjacent by convention; read each range
	// separately and concatenate for the checksum, matching the declared
	// "Adler-32 over deps‖opt" field order.
	depsBuf := make([]byte, depsSec.size)
	if depsSec.size > 0 {
		if _, rerr := region.ReadAt(depsBuf, offset+int64(depsSec.off)); rerr != nil {
			return carver.FromError(errtax.IOf(offset, rerr, "odex: reading deps section"))
		}
	}
	optBuf := make([]byte, optSec.size)
	if optSec.size > 0 {
		if _, rerr := region.ReadAt(optBuf, offset+int64(optSec.off)); rerr != nil {
			return carver.FromError(errtax.IOf(offset, rerr, "odex: reading opt section"))
		}
	}
	buf := append(depsBuf, optBuf...)
	if adler32.Checksum(buf) != checksum {
		return carver.FromError(errtax.BadChecksumf(offset, "odex: deps‖opt Adler-32 mismatch"))
	}

	// Cross-check the embedded DEX's own magic at dex_offset without
	// running its full validation (spec.md calls this "dry-run,
	// no-checksum mode"); parser/android/dex's stricter Adler-32/SHA-1
	// checks would reject a great many legitimately-optimized DEX
	// payloads whose checksums were computed before ODEX rewriting.
	dexMagic := make([]byte, 4)
	if _, rerr := region.ReadAt(dexMagic, offset+int64(dexSec.off)); rerr != nil {
		return carver.FromError(errtax.IOf(offset, rerr, "odex: reading embedded dex magic"))
	}
	want := dex.Parser{}.Signatures()[0]
	if string(dexMagic) != string(want) {
		return carver.FromError(errtax.BadMagicf(offset, "odex: embedded dex has bad magic %q", dexMagic))
	}

	length := maxEnd(dexSec, depsSec, optSec)
	if length > filesize-offset {
		length = filesize - offset
	}
	labels := label.NewSet(formatName, label.Android, label.Resource)
	return carver.Succeed(length, labels, nil, nil)
}

func readSection(c *bcursor.Cursor) (section, *errtax.Error) {
	off, err := c.U32LE()
	if err != nil {
		return section{}, err
	}
	size, err := c.U32LE()
	if err != nil {
		return section{}, err
	}
	return section{off: off, size: size}, nil
}

func maxEnd(sections ...section) int64 {
	var max int64
	for _, s := range sections {
		end := int64(s.off) + int64(s.size)
		if end > max {
			max = end
		}
	}
	return max
}
