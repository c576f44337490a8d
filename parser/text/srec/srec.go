// Package srec implements the Motorola S-record parser (spec.md §4.5,
// "SREC"): a text-mode hex-record format where every line begins with
// `S`, carries a byte count, an address, a payload, and a trailing
// checksum byte.
//
// Grounded on parser/media/pdf's line/keyword text-scan shape,
// generalized from PDF's keyword search to S-record's per-line
// checksum validation.
package srec

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
)

const formatName = "srec"

// Parser implements carver.Parser for Motorola S-records.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"srec", "s19", "s28", "s37"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("S0"), []byte("S1"), []byte("S2"), []byte("S3")} }
func (Parser) PrettyName() string   { return "Motorola S-record" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	buf := make([]byte, filesize-offset)
	n, _ := region.ReadAt(buf, offset)
	buf = buf[:n]

	sc := bufio.NewScanner(bytes.NewReader(buf))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var consumed int64
	var records int
	for sc.Scan() {
		line := sc.Text()
		trimmed := bytes.TrimRight([]byte(line), "\r\n")
		if len(trimmed) == 0 {
			consumed += int64(len(line)) + 1
			continue
		}
		if trimmed[0] != 'S' {
			if records == 0 {
				return carver.FromError(errtax.BadMagicf(offset, "srec: first non-blank line doesn't begin with S"))
			}
			break
		}
		if err := validateRecord(offset, trimmed); err != nil {
			return carver.FromError(err)
		}
		records++
		consumed += int64(len(line)) + 1
	}
	if records == 0 {
		return carver.FromError(errtax.BadStructuref(offset, "srec: no valid S-record lines found"))
	}
	if consumed > filesize-offset {
		consumed = filesize - offset
	}

	labels := label.NewSet(formatName)
	return carver.Succeed(consumed, labels, nil, map[string]any{"records": records})
}

// validateRecord decodes one S-record line's hex payload and verifies
// its trailing one's-complement checksum byte.
func validateRecord(offset int64, line []byte) *errtax.Error {
	if len(line) < 4 {
		return errtax.BadStructuref(offset, "srec: record %q too short", line)
	}
	typ := line[1]
	if typ < '0' || typ > '9' {
		return errtax.BadFieldf(offset, "srec: unrecognized record type %q", line[:2])
	}
	hexBody := line[2:]
	if len(hexBody)%2 != 0 {
		return errtax.BadStructuref(offset, "srec: record %q has odd hex length", line)
	}
	raw := make([]byte, len(hexBody)/2)
	if _, err := hex.Decode(raw, hexBody); err != nil {
		return errtax.Wrap(errtax.BadStructure, offset, err, "srec: decoding hex body")
	}
	if len(raw) < 2 {
		return errtax.BadStructuref(offset, "srec: record %q has no byte count field", line)
	}
	byteCount := int(raw[0])
	if byteCount != len(raw)-1 {
		return errtax.BadFieldf(offset, "srec: declared byte count %d != actual %d", byteCount, len(raw)-1)
	}
	var sum byte
	for _, b := range raw[:len(raw)-1] {
		sum += b
	}
	want := ^sum
	got := raw[len(raw)-1]
	if want != got {
		return errtax.BadChecksumf(offset, "srec: record %q checksum mismatch: want %#02x, got %#02x", line, want, got)
	}
	return nil
}
