// Package tzdata implements the Android tzdata time-zone bundle parser
// (spec.md §4.5, "Android tzdata"): a magic-versioned index of named
// zoneinfo blobs plus a trailing `zone.tab`.
//
// Grounded on the shared six-step skeleton; the index-table walk mirrors
// parser/android/dex's bounds-checked descriptor table, generalized from
// u32 (size, offset) pairs to tzdata's 40-byte-name plus (offset, length)
// entries.
package tzdata

import (
	"context"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName  = "android-tzdata"
	magicPrefix = "tzdata20"
	headerSize  = 24 // "tzdata20" + 2-digit year + letter + NUL + 3 u32 BE offsets
	entrySize   = 52 // 40-byte name + u32 offset + u32 length + u32 raw-gmt
)

// Parser implements carver.Parser for Android tzdata bundles.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"dat"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte(magicPrefix)} }
func (Parser) PrettyName() string   { return "Android tzdata bundle" }

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < headerSize {
		return carver.FromError(errtax.NotEnoughDataf(offset, "android-tzdata: region too small for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	magic, err := c.Bytes(len(magicPrefix))
	if err != nil {
		return carver.FromError(err)
	}
	if string(magic) != magicPrefix {
		return carver.FromError(errtax.BadMagicf(offset, "android-tzdata: bad magic %q", magic))
	}
	if _, err := c.Bytes(4); err != nil { // 2-digit year + letter + NUL
		return carver.FromError(err)
	}
	indexOff, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	dataOff, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}
	zonetabOff, err := c.U32BE()
	if err != nil {
		return carver.FromError(err)
	}

	if int64(dataOff) >= filesize-offset || int64(zonetabOff) > filesize-offset {
		return carver.FromError(errtax.BadOffsetf(offset, "android-tzdata: data/zonetab offsets outside region"))
	}

	var artifacts []carver.Artifact
	pos := int64(indexOff)
	for pos+entrySize <= int64(dataOff) {
		c.Seek(offset + pos)
		nameBytes, err := c.Bytes(40)
		if err != nil {
			return carver.FromError(err)
		}
		entOff, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		entLen, err := c.U32BE()
		if err != nil {
			return carver.FromError(err)
		}
		if _, err := c.U32BE(); err != nil { // raw-gmt offset, unused here
			return carver.FromError(err)
		}

		name := trimNUL(nameBytes)
		if name == "" {
			pos += entrySize
			continue
		}
		start := int64(dataOff) + int64(entOff)
		end := start + int64(entLen)
		if start < int64(dataOff) || end > filesize-offset {
			return carver.FromError(errtax.BadOffsetf(offset, "android-tzdata: entry %q extends past region", name))
		}
		buf := make([]byte, entLen)
		if _, rerr := region.ReadAt(buf, offset+start); rerr != nil {
			return carver.FromError(errtax.IOf(offset, rerr, "android-tzdata: reading entry %q", name))
		}
		if werr := carveio.WriteFile(env.UnpackPath(name), buf); werr != nil {
			return carver.FromError(werr)
		}
		artifacts = append(artifacts, carver.Artifact{RelPath: name, Labels: label.NewSet(formatName, label.Android, label.Unpacked)})
		pos += entrySize
	}

	zoneTabName := "zone.tab"
	zoneTab := make([]byte, filesize-offset-int64(zonetabOff))
	if _, rerr := region.ReadAt(zoneTab, offset+int64(zonetabOff)); rerr != nil {
		return carver.FromError(errtax.IOf(offset, rerr, "android-tzdata: reading zone.tab"))
	}
	if werr := carveio.WriteFile(env.UnpackPath(zoneTabName), zoneTab); werr != nil {
		return carver.FromError(werr)
	}
	artifacts = append(artifacts, carver.Artifact{RelPath: zoneTabName, Labels: label.NewSet(formatName, label.Android, label.Unpacked)})

	length := filesize - offset
	return carver.Succeed(length, label.Set{}, artifacts, nil)
}

func trimNUL(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
