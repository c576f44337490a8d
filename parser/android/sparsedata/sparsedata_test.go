package sparsedata

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carvex/carvex/internal/scanenv"
)

// buildFixture returns a .new.dat blob carrying two 1-block "new" writes
// and the matching version-3 transfer list (S7: new/zero/erase/free/stash
// commands over a 4096-byte block size).
func buildFixture() (data []byte, transferList []byte, block0, block2 []byte) {
	block0 = bytes.Repeat([]byte{0xAA}, blockSize)
	block2 = bytes.Repeat([]byte{0xBB}, blockSize)
	data = append(append([]byte{}, block0...), block2...)

	tl := strings.Join([]string{
		"3",    // version
		"4",    // total blocks in output image
		"0",    // stash entries needed simultaneously
		"0",    // max blocks stashed simultaneously
		"new 2,0,1",
		"zero 2,1,2",
		"new 2,2,3",
		"",
	}, "\n")
	return data, []byte(tl), block0, block2
}

func TestSparseDataReconstruction(t *testing.T) {
	data, tl, block0, block2 := buildFixture()
	r := bytes.NewReader(data)
	dir := t.TempDir()
	env := scanenv.Environment{OutputDirectory: dir, TransferList: tl}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if !res.Ok() {
		t.Fatalf("parse failed: %s", res.Reason)
	}
	if res.Length != int64(len(data)) {
		t.Fatalf("length=%d want %d", res.Length, len(data))
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected one reconstructed-image artifact, got %v", res.Artifacts)
	}
	out, err := os.ReadFile(filepath.Join(dir, res.Artifacts[0].RelPath))
	if err != nil {
		t.Fatalf("reading reconstructed image: %v", err)
	}
	if len(out) != 4*blockSize {
		t.Fatalf("output size=%d want %d", len(out), 4*blockSize)
	}
	if !bytes.Equal(out[0:blockSize], block0) {
		t.Fatalf("block 0 mismatch")
	}
	if !bytes.Equal(out[2*blockSize:3*blockSize], block2) {
		t.Fatalf("block 2 mismatch")
	}
}

func TestSparseDataMissingTransferList(t *testing.T) {
	data, _, _, _ := buildFixture()
	r := bytes.NewReader(data)
	env := scanenv.Environment{OutputDirectory: t.TempDir()}
	res := Parser{}.Parse(context.Background(), r, int64(len(data)), 0, env)
	if res.Ok() {
		t.Fatalf("expected failure without a transfer list")
	}
}

func TestSparseDataUnevenRangeCount(t *testing.T) {
	_, _, _, _ = buildFixture()
	tl := "2\n4\n0\n0\nnew 3,0,1,2\n"
	r := bytes.NewReader(make([]byte, blockSize))
	env := scanenv.Environment{OutputDirectory: t.TempDir(), TransferList: []byte(tl)}
	res := Parser{}.Parse(context.Background(), r, blockSize, 0, env)
	if res.Ok() {
		t.Fatalf("expected failure on odd range count")
	}
}
