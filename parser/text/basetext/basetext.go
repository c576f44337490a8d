// Package basetext implements the full-file base64/base32/base16 text
// decoder (spec.md §4.5, "Base64/base32/base16 text"): whole-input text
// decode with ambiguity resolution across five candidate alphabets, and
// a false-positive guard against raw hex hash digests.
//
// Grounded on parser/media/pdf's whole-region-in-memory text scan; the
// alphabet-ranking logic has no analogue elsewhere in the pack since no
// other format carries this kind of encoding ambiguity, so the
// candidate-ranking loop is original to this package while reusing the
// surrounding six-step skeleton.
package basetext

import (
	"context"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
)

const formatName = "base-text"

// hashDigestLens are single-line hex lengths this parser refuses to
// decode as base16, since a bare MD5/SHA-1/SHA-256 digest printed on
// its own line is far more likely to be a hash than an intentionally
// base16-encoded payload.
var hashDigestLens = map[int]bool{32: true, 40: true, 64: true}

// Parser implements carver.Parser for ambiguous base64/32/16 text.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"b64", "txt"} }
func (Parser) Signatures() [][]byte { return nil } // no fixed magic; dispatched by trying every candidate decoder
func (Parser) PrettyName() string   { return "base64/base32/base16 encoded text" }

type candidate struct {
	encoding string
	decode   func(string) ([]byte, error)
}

var candidates = []candidate{
	{"base16", func(s string) ([]byte, error) { return hex.DecodeString(s) }},
	{"base32", base32.StdEncoding.DecodeString},
	{"base32hex", base32.HexEncoding.DecodeString},
	{"base64", base64.StdEncoding.DecodeString},
	{"base64url", base64.URLEncoding.DecodeString},
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if !carver.WholeFile(offset, filesize-offset, filesize) {
		return carver.FromError(errtax.New(errtax.UnsupportedFeature, offset, "base-text: carried full-file only, region is embedded"))
	}
	raw := make([]byte, filesize-offset)
	n, _ := region.ReadAt(raw, offset)
	raw = raw[:n]

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return carver.FromError(errtax.BadStructuref(offset, "base-text: empty input"))
	}
	if !strings.Contains(trimmed, "\n") && hashDigestLens[len(trimmed)] && isHexString(trimmed) {
		return carver.FromError(errtax.BadStructuref(offset, "base-text: single-line %d-char hex string looks like a hash digest, not base16", len(trimmed)))
	}
	compact := stripWhitespace(trimmed)

	for _, c := range candidates {
		decoded, err := c.decode(compact)
		if err != nil || len(decoded) == 0 {
			continue
		}
		relName := pathname.EncodedName(c.encoding)
		if werr := carveio.WriteFile(env.UnpackPath(relName), decoded); werr != nil {
			return carver.FromError(werr)
		}
		length := filesize - offset
		labels := label.NewSet(formatName)
		artifacts := []carver.Artifact{{RelPath: relName, Labels: label.NewSet(label.Unpacked)}}
		return carver.Succeed(length, labels, artifacts, map[string]any{"encoding": c.encoding})
	}

	return carver.FromError(errtax.BadStructuref(offset, "base-text: no base16/32/64 decoding succeeded"))
}

func isHexString(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
