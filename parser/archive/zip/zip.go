// Package zip implements the ZIP parser (spec.md §4.6), the most
// intricate archive parser in this module: a tape of records terminated
// by a central directory, with tolerance for data descriptors, a ZIP64
// extra, an Android signing block, and the Dahua "DH" local-header
// variant.
//
// Grounded on the shared six-step skeleton (spec.md §4.4) and the
// state-machine structure spec.md §4.7 describes explicitly
// (expect-local -> in-data-descriptor-search -> expect-central ->
// expect-android-signing -> expect-eocd -> done).
package zip

import (
	"context"
	"encoding/binary"
	"path/filepath"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/xfmt"
)

const formatName = "zip"

var (
	sigLocalStd        = []byte{'P', 'K', 0x03, 0x04}
	sigLocalDahua      = []byte{'D', 'H', 0x03, 0x04}
	sigCentral         = []byte{'P', 'K', 0x01, 0x02}
	sigEOCD            = []byte{'P', 'K', 0x05, 0x06}
	sigZip64EOCD       = []byte{'P', 'K', 0x06, 0x06}
	sigZip64Loc        = []byte{'P', 'K', 0x06, 0x07}
	sigDataDesc        = []byte{'P', 'K', 0x07, 0x08}
	sigArchiveExtra    = []byte{'P', 'K', 0x06, 0x08}
	sigDigitalSig      = []byte{'P', 'K', 0x05, 0x05}
	apkSigBlockTrailer = []byte("APK Sig Block 42")
)

// Parser implements carver.Parser for ZIP.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"zip"} }
func (Parser) Signatures() [][]byte { return [][]byte{sigLocalStd, sigLocalDahua} }
func (Parser) PrettyName() string   { return "ZIP archive" }

type localEntry struct {
	name             string
	crc32            uint32
	compressedSize   uint64
	uncompressedSize uint64
	method           uint16
	flags            uint16
	dataOffset       int64
	externalDirBit   bool
	isDahua          bool
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	c := bcursor.New(region, offset, filesize-offset)

	var entries []localEntry
	var comment string
	dahua := false
	apkSigSeen := false

	sawAny := false
state:
	for {
		if cerr := ctx.Err(); cerr != nil {
			return carver.Fail(c.Pos(), true, cerr.Error())
		}
		sig, err := c.Peek(4)
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "zip: missing end of central directory"))
		}
		switch {
		case bytesEq(sig, sigLocalStd) || bytesEq(sig, sigLocalDahua):
			isDahua := bytesEq(sig, sigLocalDahua)
			if isDahua {
				dahua = true
			}
			ent, perr := parseLocal(c, isDahua)
			if perr != nil {
				return carver.FromError(perr)
			}
			entries = append(entries, ent)
			sawAny = true
		case bytesEq(sig, sigDataDesc):
			if err := c.Advance(16); err != nil { // sig + crc + csize + usize (32-bit size fields)
				return carver.FromError(err)
			}
		case bytesEq(sig, sigArchiveExtra):
			if err := c.Advance(4); err != nil {
				return carver.FromError(err)
			}
			sz, err := c.U32LE()
			if err != nil {
				return carver.FromError(err)
			}
			if err := c.Advance(int64(sz)); err != nil {
				return carver.FromError(err)
			}
		case bytesEq(sig, sigCentral):
			break state
		default:
			// Could be the start of an Android signing block (an 8-byte
			// size field with no fixed PK-style signature at its start):
			// scan forward for its trailer before giving up.
			if ok, newPos := tryAndroidSigBlock(c); ok {
				apkSigSeen = true
				c.Seek(newPos)
				continue
			}
			break state
		}
	}

	if !sawAny {
		return carver.FromError(errtax.BadMagicf(offset, "zip: no local file header at offset"))
	}

	// Central directory.
	centralCRCs := make(map[string]uint32)
	for {
		sig, err := c.Peek(4)
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "zip: truncated central directory"))
		}
		if bytesEq(sig, sigEOCD) || bytesEq(sig, sigZip64EOCD) || bytesEq(sig, sigZip64Loc) {
			break
		}
		if !bytesEq(sig, sigCentral) {
			return carver.FromError(errtax.BadStructuref(c.Pos(), "zip: unexpected record in central directory"))
		}
		name, crc, perr := parseCentralEntry(c)
		if perr != nil {
			return carver.FromError(perr)
		}
		centralCRCs[name] = crc
	}

	for _, e := range entries {
		cc, ok := centralCRCs[e.name]
		if !ok {
			return carver.FromError(errtax.BadStructuref(c.Pos(), "zip: %q has no matching central directory entry", e.name))
		}
		if cc != e.crc32 {
			return carver.FromError(errtax.BadChecksumf(c.Pos(), "zip: %q local/central CRC32 mismatch", e.name))
		}
	}

	// Optional ZIP64 locator/EOCD, then the classic EOCD.
	for {
		sig, err := c.Peek(4)
		if err != nil {
			return carver.FromError(errtax.NotEnoughDataf(c.Pos(), "zip: missing EOCD"))
		}
		switch {
		case bytesEq(sig, sigZip64EOCD):
			if err := skipZip64EOCD(c); err != nil {
				return carver.FromError(err)
			}
		case bytesEq(sig, sigZip64Loc):
			if err := c.Advance(20); err != nil {
				return carver.FromError(err)
			}
		case bytesEq(sig, sigEOCD):
			cm, perr := parseEOCD(c)
			if perr != nil {
				return carver.FromError(perr)
			}
			comment = cm
			goto done
		default:
			return carver.FromError(errtax.BadStructuref(c.Pos(), "zip: unexpected record before EOCD"))
		}
	}
done:

	length := c.Pos() - offset

	labels := label.NewSet(formatName, label.Compressed)
	for _, e := range entries {
		if e.flags&0x1 != 0 {
			labels.Add(label.Encrypted)
		}
		if e.name == "AndroidManifest.xml" || e.name == "classes.dex" {
			labels.Add(label.APK, label.Android)
		}
	}
	if apkSigSeen {
		labels.Add(label.APK, label.Android)
	}
	if dahua {
		labels.Add(label.Dahua)
	}

	metadata := map[string]any{"comment": comment}

	if carver.WholeFile(offset, length, filesize) {
		if werr := extractMembers(region, offset, entries, env.OutputDirectory, dahua); werr != nil {
			return carver.FromError(werr)
		}
		artifacts := artifactsFor(entries)
		if len(artifacts) > 0 {
			return carver.Succeed(length, labels, artifacts, metadata)
		}
		return carver.Succeed(length, labels, nil, metadata)
	}

	// Carved case: stage the bytes (rewriting DH->PK for the Dahua
	// variant, spec.md §4.6 step 6) and extract members from the staged
	// copy.
	stagedRel := pathname.SingleFileName("zip")
	stagedPath := env.UnpackPath(stagedRel)
	if cerr := carveio.CopyRange(region, offset, length, stagedPath); cerr != nil {
		return carver.FromError(cerr)
	}
	if dahua {
		if err := rewriteDahuaHeader(stagedPath); err != nil {
			carveio.RemoveAll(stagedPath)
			return carver.FromError(errtax.IOf(offset, err, "zip: rewriting dahua header"))
		}
	}
	return carver.Succeed(length, label.Set{}, []carver.Artifact{{RelPath: stagedRel, Labels: labels.Union(label.NewSet(label.Unpacked))}}, metadata)
}

func bytesEq(a, b []byte) bool {
	if len(a) < len(b) {
		return false
	}
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func parseLocal(c *bcursor.Cursor, dahua bool) (localEntry, *errtax.Error) {
	start := c.Pos()
	if err := c.Advance(4); err != nil { // signature
		return localEntry{}, err
	}
	ver, err := c.U16LE()
	if err != nil {
		return localEntry{}, err
	}
	if ver > 90 && ver != 0x30A && ver != 0x314 {
		return localEntry{}, errtax.BadVersionf(start, "zip: unsupported version needed %d", ver)
	}
	flags, err := c.U16LE()
	if err != nil {
		return localEntry{}, err
	}
	method, err := c.U16LE()
	if err != nil {
		return localEntry{}, err
	}
	if err := c.Advance(4); err != nil { // mod time+date
		return localEntry{}, err
	}
	crc, err := c.U32LE()
	if err != nil {
		return localEntry{}, err
	}
	csize, err := c.U32LE()
	if err != nil {
		return localEntry{}, err
	}
	usize, err := c.U32LE()
	if err != nil {
		return localEntry{}, err
	}
	nameLen, err := c.U16LE()
	if err != nil {
		return localEntry{}, err
	}
	extraLen, err := c.U16LE()
	if err != nil {
		return localEntry{}, err
	}
	name, err := c.FixedString(int(nameLen))
	if err != nil {
		return localEntry{}, err
	}
	extra, err := c.Bytes(int(extraLen))
	if err != nil {
		return localEntry{}, err
	}
	var c64, u64 uint64 = uint64(csize), uint64(usize)
	if csize == 0xFFFFFFFF || usize == 0xFFFFFFFF {
		if ver < 45 {
			return localEntry{}, errtax.BadVersionf(start, "zip: zip64 extra requires version >= 45")
		}
		nc, nu, zerr := parseZip64Extra(extra, csize, usize)
		if zerr != nil {
			return localEntry{}, zerr
		}
		c64, u64 = nc, nu
	}
	dataOffset := c.Pos()

	if flags&0x8 != 0 && csize == 0 {
		// Data descriptor follows; search forward for the earliest valid
		// candidate per spec.md §4.6 step 3. We use the simplest of the
		// three strategies: scan for the PK\x07\x08 descriptor whose
		// embedded compressed size equals the distance travelled.
		n, derr := findDataDescriptor(c, dataOffset)
		if derr != nil {
			return localEntry{}, derr
		}
		c64 = uint64(n)
	} else {
		if err := c.Advance(int64(c64)); err != nil {
			return localEntry{}, err
		}
	}

	return localEntry{
		name: name, crc32: crc, compressedSize: c64, uncompressedSize: u64,
		method: method, flags: flags, dataOffset: dataOffset, isDahua: dahua,
	}, nil
}

func parseZip64Extra(extra []byte, csize, usize uint32) (uint64, uint64, *errtax.Error) {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra[0:2])
		sz := binary.LittleEndian.Uint16(extra[2:4])
		if int(sz) > len(extra)-4 {
			return 0, 0, errtax.BadStructuref(0, "zip: truncated extra field")
		}
		body := extra[4 : 4+int(sz)]
		if tag == 0x0001 {
			var nu, nc uint64 = uint64(usize), uint64(csize)
			idx := 0
			if usize == 0xFFFFFFFF && idx+8 <= len(body) {
				nu = binary.LittleEndian.Uint64(body[idx : idx+8])
				idx += 8
			}
			if csize == 0xFFFFFFFF && idx+8 <= len(body) {
				nc = binary.LittleEndian.Uint64(body[idx : idx+8])
				idx += 8
			}
			return nc, nu, nil
		}
		extra = extra[4+int(sz):]
	}
	return 0, 0, errtax.BadStructuref(0, "zip: zip64 sizes set but no zip64 extra present")
}

// findDataDescriptor scans forward from dataStart looking for a
// PK\x07\x08 descriptor whose middle (compressed-size) field equals the
// distance already travelled, per spec.md §4.6 step 3's first strategy.
func findDataDescriptor(c *bcursor.Cursor, dataStart int64) (int64, *errtax.Error) {
	const window = 1 << 20 // bounded lookahead, spec.md §5 memory discipline
	buf, err := c.Peek(minInt(window, int(c.Remaining())))
	if err != nil {
		return 0, err
	}
	for i := 0; i+16 <= len(buf); i++ {
		if bytesEq(buf[i:], sigDataDesc) {
			csize := binary.LittleEndian.Uint32(buf[i+8 : i+12])
			if int64(i) == int64(csize) {
				if aerr := c.Advance(int64(i) + 16); aerr != nil {
					return 0, aerr
				}
				return int64(i), nil
			}
		}
	}
	return 0, errtax.BadStructuref(c.Pos(), "zip: no matching data descriptor found")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// tryAndroidSigBlock recognizes the APK Signing Block (spec.md §4.6 step
// 4): 8-byte size, body, 8-byte size repeat, 16-byte ASCII trailer,
// optionally padded to a 4096-byte boundary (APK v3).
func tryAndroidSigBlock(c *bcursor.Cursor) (bool, int64) {
	start := c.Pos()
	peekLen := 8
	head, err := c.Peek(peekLen)
	if err != nil || len(head) < 8 {
		return false, 0
	}
	size := binary.LittleEndian.Uint64(head)
	if size < 24 || int64(size)+8 > c.Remaining() {
		return false, 0
	}
	block, err := c.Peek(int(size) + 8)
	if err != nil {
		return false, 0
	}
	// Trailing 24 bytes are [size_repeat(8)][magic(16)]; the magic sits
	// last, immediately before the next record (spec.md §4.6 step 4).
	trailer := block[len(block)-16:]
	if !bytesEq(trailer, apkSigBlockTrailer) {
		return false, 0
	}
	sizeRepeat := binary.LittleEndian.Uint64(block[len(block)-24 : len(block)-16])
	if sizeRepeat != size {
		return false, 0
	}
	return true, start + int64(size) + 8
}

func parseCentralEntry(c *bcursor.Cursor) (string, uint32, *errtax.Error) {
	if err := c.Advance(4); err != nil {
		return "", 0, err
	}
	if err := c.Advance(4); err != nil { // version made by + version needed
		return "", 0, err
	}
	if err := c.Advance(4); err != nil { // flags + method
		return "", 0, err
	}
	if err := c.Advance(4); err != nil { // mod time+date
		return "", 0, err
	}
	crc, err := c.U32LE()
	if err != nil {
		return "", 0, err
	}
	if err := c.Advance(8); err != nil { // csize + usize
		return "", 0, err
	}
	nameLen, err := c.U16LE()
	if err != nil {
		return "", 0, err
	}
	extraLen, err := c.U16LE()
	if err != nil {
		return "", 0, err
	}
	commentLen, err := c.U16LE()
	if err != nil {
		return "", 0, err
	}
	if err := c.Advance(8); err != nil { // disk, internal attr, external attr
		return "", 0, err
	}
	if err := c.Advance(4); err != nil { // local header offset
		return "", 0, err
	}
	name, err := c.FixedString(int(nameLen))
	if err != nil {
		return "", 0, err
	}
	if err := c.Advance(int64(extraLen) + int64(commentLen)); err != nil {
		return "", 0, err
	}
	return name, crc, nil
}

func skipZip64EOCD(c *bcursor.Cursor) *errtax.Error {
	if err := c.Advance(4); err != nil { // signature
		return err
	}
	sz, err := c.U64LE()
	if err != nil {
		return err
	}
	return c.Advance(int64(sz))
}

func parseEOCD(c *bcursor.Cursor) (string, *errtax.Error) {
	if err := c.Advance(4); err != nil { // signature
		return "", err
	}
	if err := c.Advance(16); err != nil { // disk numbers + entry counts + cd size/offset
		return "", err
	}
	commentLen, err := c.U16LE()
	if err != nil {
		return "", err
	}
	comment, err := c.FixedString(int(commentLen))
	if err != nil {
		return "", err
	}
	return comment, nil
}

func artifactsFor(entries []localEntry) []carver.Artifact {
	var out []carver.Artifact
	for _, e := range entries {
		if e.name == "" {
			continue
		}
		out = append(out, carver.Artifact{RelPath: e.name, Labels: label.NewSet(label.Unpacked)})
	}
	return out
}

// extractMembers writes each supported member (stored/deflate/bzip2/LZMA)
// to outDir/e.name, skipping members with unsupported compression methods
// per spec.md §4.6 step 7 ("the ZIP itself still validates").
func extractMembers(region carver.Region, base int64, entries []localEntry, outDir string, dahua bool) *errtax.Error {
	for _, e := range entries {
		if e.name == "" || isDirEntry(e) {
			continue
		}
		var codec xfmt.Codec
		switch e.method {
		case 0:
			codec = ""
		case 8:
			codec = xfmt.DeflateRaw
		case 12:
			codec = xfmt.Bzip2
		case 14:
			codec = xfmt.LZMA1
		default:
			continue // unsupported compression: archive still validates
		}
		if codec == "" {
			if werr := carveio.CopyRange(region, base+e.dataOffset, int64(e.compressedSize), joinPath(outDir, e.name)); werr != nil {
				return werr
			}
			continue
		}
		if werr := extractCompressed(region, base+e.dataOffset, int64(e.compressedSize), codec, joinPath(outDir, e.name)); werr != nil {
			return werr
		}
	}
	return nil
}

func isDirEntry(e localEntry) bool {
	return e.uncompressedSize == 0 && len(e.name) > 0 && e.name[len(e.name)-1] == '/'
}

// joinPath joins an archive member name under dir. A name that Contain
// refuses (one climbing above the root via "..") is not skipped: it is
// cleaned from the root with Clean, so the member is still written
// inside dir.
func joinPath(dir, name string) string {
	cleaned, ok := pathname.Contain(name)
	if !ok {
		cleaned = pathname.Clean(name)
	}
	return filepath.Join(dir, filepath.FromSlash(cleaned))
}

func rewriteDahuaHeader(path string) error {
	return rewriteDahuaHeaderImpl(path)
}
