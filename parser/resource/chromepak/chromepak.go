// Package chromepak implements the Chrome PAK v4/v5 resource-bundle
// parser (spec.md §4.5, "Chrome PAK v4/v5"): a small versioned resource
// table followed by a contiguous body blob.
//
// Grounded on parser/android/dex's "table of fixed records, bounds-check
// each against a sorted offset sequence" shape, generalized from DEX's
// ID tables to PAK's id/offset resource records.
package chromepak

import (
	"context"
	"sort"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/scanenv"
)

const formatName = "chrome-pak"

// Parser implements carver.Parser for Chrome's PAK resource bundle.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"pak"} }
func (Parser) Signatures() [][]byte {
	return [][]byte{{0x04, 0x00, 0x00, 0x00}, {0x05, 0x00, 0x00, 0x00}}
}
func (Parser) PrettyName() string { return "Chrome PAK resource bundle" }

type resource struct {
	id     uint16
	offset uint32
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if filesize-offset < 9 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "chrome-pak: region too small for header"))
	}
	c := bcursor.New(region, offset, filesize-offset)

	version, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}

	var resources []resource
	var endOffset uint32
	switch version {
	case 4:
		count, err := c.U32LE()
		if err != nil {
			return carver.FromError(err)
		}
		if _, err := c.U8(); err != nil { // encoding
			return carver.FromError(err)
		}
		for i := uint32(0); i < count; i++ {
			id, err := c.U16LE()
			if err != nil {
				return carver.FromError(err)
			}
			off, err := c.U32LE()
			if err != nil {
				return carver.FromError(err)
			}
			resources = append(resources, resource{id, off})
		}
		if err := c.Advance(2); err != nil { // two zero bytes
			return carver.FromError(err)
		}
		endOffset, err = c.U32LE()
		if err != nil {
			return carver.FromError(err)
		}
	case 5:
		if _, err := c.U8(); err != nil { // encoding
			return carver.FromError(err)
		}
		if err := c.Advance(3); err != nil { // padding
			return carver.FromError(err)
		}
		count, err := c.U16LE()
		if err != nil {
			return carver.FromError(err)
		}
		aliasCount, err := c.U16LE()
		if err != nil {
			return carver.FromError(err)
		}
		for i := uint16(0); i < count; i++ {
			id, err := c.U16LE()
			if err != nil {
				return carver.FromError(err)
			}
			off, err := c.U32LE()
			if err != nil {
				return carver.FromError(err)
			}
			resources = append(resources, resource{id, off})
		}
		endOffset, err = c.U32LE()
		if err != nil {
			return carver.FromError(err)
		}
		for i := uint16(0); i < aliasCount; i++ {
			if err := c.Advance(4); err != nil { // (id u16, index u16) — not needed for bounds checking
				return carver.FromError(err)
			}
		}
	default:
		return carver.FromError(errtax.BadVersionf(offset, "chrome-pak: unsupported version %d", version))
	}

	if int64(endOffset) > filesize-offset {
		return carver.FromError(errtax.BadFieldf(offset, "chrome-pak: end-of-file offset %d exceeds region", endOffset))
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].offset < resources[j].offset })
	for i, r := range resources {
		if r.offset > endOffset {
			return carver.FromError(errtax.BadOffsetf(offset, "chrome-pak: resource %d offset %d exceeds end-of-file offset", i, r.offset))
		}
	}

	length := int64(endOffset)
	labels := label.NewSet(formatName, label.Resource)
	return carver.Succeed(length, labels, nil, map[string]any{"version": version, "resourceCount": len(resources)})
}
