// Package sparsedata implements the Android sparse-data block-image-diff
// parser (spec.md §4.5, "Android sparse-data"): a `.new.dat` blob plus a
// sibling `.transfer.list` command stream that together reconstruct a raw
// block image.
//
// Grounded on the shared six-step skeleton, adapted for the one format in
// this spec whose second input isn't embedded in the region itself — the
// transfer list is threaded through scanenv.Environment.TransferList
// (see that package's doc comment for why).
package sparsedata

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/carveio"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
)

const (
	formatName = "android-sparse-data"
	blockSize  = 4096
)

// Parser implements carver.Parser for Android sparse-data. It has no fixed
// byte signature — the `.new.dat` blob is a flat array of 4096-byte blocks
// with no header — so it carries no entries in Signatures() and depends
// on the orchestrator recognizing the `.new.dat`/`.transfer.list` filename
// pairing out of band, the way spec.md §6.4 rule 1 already assumes
// filename-driven dispatch for some formats.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"new.dat"} }
func (Parser) Signatures() [][]byte { return nil }
func (Parser) PrettyName() string   { return "Android sparse data (block image diff)" }

type blockRange struct{ start, end int64 } // end exclusive, in blocks

type command struct {
	op     string
	ranges []blockRange
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if env.TransferList == nil {
		return carver.FromError(errtax.UnsupportedFeaturef(offset, "android-sparse-data: no sibling transfer list supplied"))
	}
	cmds, totalBlocks, perr := parseTransferList(env.TransferList)
	if perr != nil {
		return carver.FromError(perr)
	}

	destName := pathname.StemName("", formatName)
	destPath := env.UnpackPath(destName)
	out, oerr := os.Create(destPath)
	if oerr != nil {
		return carver.FromError(errtax.IOf(offset, oerr, "android-sparse-data: creating output image"))
	}
	defer out.Close()
	if terr := out.Truncate(totalBlocks * blockSize); terr != nil {
		carveio.RemoveAll(destPath)
		return carver.FromError(errtax.IOf(offset, terr, "android-sparse-data: sizing output image"))
	}

	c := bcursor.New(region, offset, filesize-offset)
	for _, cmd := range cmds {
		if cmd.op != "new" {
			continue // zero/erase/free/stash: no data bytes in this blob
		}
		for _, rg := range cmd.ranges {
			n := (rg.end - rg.start) * blockSize
			buf, err := c.Bytes(int(n))
			if err != nil {
				carveio.RemoveAll(destPath)
				return carver.FromError(err)
			}
			if _, werr := out.WriteAt(buf, rg.start*blockSize); werr != nil {
				carveio.RemoveAll(destPath)
				return carver.FromError(errtax.IOf(offset, werr, "android-sparse-data: writing block range"))
			}
		}
	}

	// Length consumed equals the input filesize (spec.md §4.5): the
	// ".new.dat" blob is pure sequential data, nothing trails it.
	length := filesize - offset
	artifactLabels := label.NewSet(formatName, label.Android, label.Filesystem, label.Unpacked)
	artifact := carver.Artifact{RelPath: destName, Labels: artifactLabels}
	return carver.Succeed(length, label.Set{}, []carver.Artifact{artifact}, nil)
}

// parseTransferList parses the command-stream text (spec.md §4.5):
// line 1 is the version (2-4 supported here); line 2 is the total block
// count sizing the output image; for version >= 2, lines 3 and 4 are the
// stash-bookkeeping counts (simultaneous stash entries, max stashed
// blocks) — read as exactly two lines, correcting the four-line read
// original_source/bangandroid.py performs (spec.md's Open Questions call
// this out explicitly). Every remaining line is a command.
func parseTransferList(data []byte) ([]command, int64, *errtax.Error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lines := make([]string, 0, 64)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) < 2 {
		return nil, 0, errtax.BadStructuref(0, "android-sparse-data: transfer list too short")
	}
	version, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || version < 2 || version > 4 {
		return nil, 0, errtax.BadVersionf(0, "android-sparse-data: unsupported transfer list version %q", lines[0])
	}
	totalBlocks, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return nil, 0, errtax.BadFieldf(0, "android-sparse-data: bad total block count %q", lines[1])
	}

	idx := 2
	if version >= 2 {
		if len(lines) < 4 {
			return nil, 0, errtax.BadStructuref(0, "android-sparse-data: missing stash bookkeeping lines")
		}
		idx = 4 // consume exactly lines 3 and 4, not BANG's four-line read
	}

	var cmds []command
	for _, line := range lines[idx:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		op := parts[0]
		if op != "new" && op != "zero" && op != "erase" && op != "free" && op != "stash" {
			return nil, 0, errtax.BadStructuref(0, "android-sparse-data: unknown command %q", op)
		}
		if len(parts) < 2 {
			return nil, 0, errtax.BadStructuref(0, "android-sparse-data: command %q missing block range", op)
		}
		rangeField := parts[1]
		if op == "stash" {
			// "stash <id> <range>": skip the id token.
			fields := strings.SplitN(rangeField, " ", 2)
			if len(fields) != 2 {
				return nil, 0, errtax.BadStructuref(0, "android-sparse-data: malformed stash command")
			}
			rangeField = fields[1]
		}
		ranges, rerr := parseRangeVector(rangeField)
		if rerr != nil {
			return nil, 0, rerr
		}
		cmds = append(cmds, command{op: op, ranges: ranges})
	}
	return cmds, totalBlocks, nil
}

// parseRangeVector parses "count,n0,n1,n2,...": count must be even and
// equal the number of following integers, interpreted as count/2 [start,
// end) pairs (spec.md §4.5).
func parseRangeVector(s string) ([]blockRange, *errtax.Error) {
	fields := strings.Split(s, ",")
	if len(fields) < 1 {
		return nil, errtax.BadStructuref(0, "android-sparse-data: empty range vector")
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count%2 != 0 {
		return nil, errtax.BadStructuref(0, "android-sparse-data: range vector count %q must be even", fields[0])
	}
	if count != len(fields)-1 {
		return nil, errtax.BadStructuref(0, "android-sparse-data: range vector declares %d, has %d", count, len(fields)-1)
	}
	nums := make([]int64, count)
	for i, f := range fields[1:] {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, errtax.BadFieldf(0, "android-sparse-data: bad range integer %q", f)
		}
		nums[i] = n
	}
	ranges := make([]blockRange, 0, count/2)
	for i := 0; i+1 < len(nums); i += 2 {
		if nums[i+1] < nums[i] {
			return nil, errtax.BadStructuref(0, "android-sparse-data: inverted range [%d,%d)", nums[i], nums[i+1])
		}
		ranges = append(ranges, blockRange{start: nums[i], end: nums[i+1]})
	}
	return ranges, nil
}
