package zip

import (
	"io"
	"os"
	"path/filepath"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/xfmt"
)

// extractCompressed decompresses codec-compressed bytes from region at
// [base, base+n) into destPath.
func extractCompressed(region carver.Region, base, n int64, codec xfmt.Codec, destPath string) *errtax.Error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errtax.IOf(base, err, "zip: creating member directory")
	}
	st, err := xfmt.Open(codec, nil)
	if err != nil {
		return errtax.Wrap(errtax.BadField, base, err, "zip: unsupported codec")
	}
	sr := io.NewSectionReader(region, base, n)
	raw, rerr := io.ReadAll(sr)
	if rerr != nil {
		return errtax.IOf(base, rerr, "zip: reading compressed member")
	}
	decoded, derr := st.Feed(raw)
	if derr != nil {
		return errtax.Wrap(errtax.BadStructure, base, derr, "zip: decompressing member")
	}
	f, ferr := os.Create(destPath)
	if ferr != nil {
		return errtax.IOf(base, ferr, "zip: creating member file")
	}
	defer f.Close()
	if _, werr := f.Write(decoded); werr != nil {
		return errtax.IOf(base, werr, "zip: writing member")
	}
	return nil
}

// rewriteDahuaHeaderImpl rewrites the leading "DH" local-header magic to
// "PK" in the staged copy only (spec.md §4.6 step 6), leaving the source
// region untouched (Invariant: parsers never modify the source region).
func rewriteDahuaHeaderImpl(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte("PK"), 0); err != nil {
		return err
	}
	return nil
}
