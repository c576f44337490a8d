// Package riff implements the shared RIFF container walk that backs the
// WebP, WAV, and ANI parsers (spec.md §4.5): a "RIFF" magic, a little-
// endian length, a four-byte form type, then a flat sequence of
// (FourCC, length, data) chunks padded to even length.
//
// Grounded on original_source/bangmedia.py's unpackRIFF, which all three
// of its WebP/WAV/ANI unpackers call as a shared helper — the same
// consolidation is carried here as one package three format parsers
// import, rather than copying the chunk walk three times.
package riff

import (
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/errtax"
)

// Chunk records one RIFF chunk's FourCC, its offset relative to the start
// of the RIFF container, and its declared (unpadded) length.
type Chunk struct {
	FourCC string
	Offset int64
	Length int64
}

// extraChunks are accepted regardless of the caller's format-specific
// chunk set (metadata/filler chunks common to every RIFF-based format).
var extraChunks = map[string]bool{"LIST": true, "DISP": true, "JUNK": true, "PAD": true}

// Walk validates the RIFF header at c's current position (expected to sit
// at offset) against formType, then walks its chunk list, accepting any
// FourCC in validChunks or extraChunks. It returns every chunk seen and
// the total container length. When brokenLength is set, the declared
// length field is interpreted as the size of the whole container
// (including the 8-byte RIFF header) rather than the size of what
// follows it — some ANI files in the wild record it this way.
func Walk(c *bcursor.Cursor, offset, filesize int64, formType string, validChunks map[string]bool, brokenLength bool) ([]Chunk, int64, *errtax.Error) {
	if c.Remaining() < 12 {
		return nil, 0, errtax.NotEnoughDataf(offset, "riff: less than 12 bytes")
	}
	if err := c.MagicString("RIFF"); err != nil {
		return nil, 0, err
	}
	riffLength, err := c.U32LE()
	if err != nil {
		return nil, 0, err
	}
	var end int64
	if brokenLength {
		end = offset + int64(riffLength)
	} else {
		end = offset + int64(riffLength) + 8
	}
	if end > filesize {
		return nil, 0, errtax.BadFieldf(offset, "riff: declared length %d exceeds file", riffLength)
	}
	form, err := c.Bytes(4)
	if err != nil {
		return nil, 0, err
	}
	if string(form) != formType {
		return nil, 0, errtax.BadMagicf(offset+8, "riff: expected form type %q, got %q", formType, form)
	}

	var chunks []Chunk
	for c.Pos() != end {
		if c.Pos() > end {
			return nil, 0, errtax.BadStructuref(c.Pos(), "riff: chunk walk overran declared length")
		}
		chunkOffset := c.Pos() - offset
		fourcc, err := c.Bytes(4)
		if err != nil {
			return nil, 0, errtax.NotEnoughDataf(c.Pos(), "riff: missing chunk FourCC")
		}
		name := string(fourcc)
		if !validChunks[name] && !extraChunks[name] {
			return nil, 0, errtax.BadFieldf(c.Pos()-4, "riff: unrecognized chunk FourCC %q", name)
		}
		length, err := c.U32LE()
		if err != nil {
			return nil, 0, err
		}
		padded := int64(length)
		hasPadding := padded%2 != 0
		if hasPadding {
			padded++
		}
		if padded > filesize-c.Pos() {
			return nil, 0, errtax.BadFieldf(c.Pos(), "riff: chunk %q length %d outside file", name, length)
		}
		if name == "LIST" && length < 4 && length != 0 {
			return nil, 0, errtax.BadFieldf(c.Pos(), "riff: invalid LIST chunk length %d", length)
		}
		if hasPadding {
			pad, err := c.Bytes(int(padded))
			if err != nil {
				return nil, 0, err
			}
			if pad[len(pad)-1] != 0 {
				return nil, 0, errtax.BadFieldf(c.Pos()-1, "riff: non-zero padding byte after chunk %q", name)
			}
		} else {
			if err := c.Advance(padded); err != nil {
				return nil, 0, err
			}
		}
		chunks = append(chunks, Chunk{FourCC: name, Offset: chunkOffset, Length: int64(length)})
	}
	return chunks, end - offset, nil
}

// Find returns the first chunk with the given FourCC, or
// ok=false if none was seen.
func Find(chunks []Chunk, fourcc string) (Chunk, bool) {
	for _, ch := range chunks {
		if ch.FourCC == fourcc {
			return ch, true
		}
	}
	return Chunk{}, false
}

// Count returns how many chunks carry the given FourCC.
func Count(chunks []Chunk, fourcc string) int {
	n := 0
	for _, ch := range chunks {
		if ch.FourCC == fourcc {
			n++
		}
	}
	return n
}
