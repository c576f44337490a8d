// Package ecosystem assembles every format parser this module ships into
// one carver.Registry, the way quay-claircore/indexer/ecosystem.go
// assembles per-distribution scanners into one Ecosystem value: an
// explicit constructor function, not package-init self-registration, so
// the set of wired parsers is visible by reading one file instead of
// grepping for init() across the tree.
package ecosystem

import (
	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/parser/android/arsc"
	"github.com/carvex/carvex/parser/android/avb"
	"github.com/carvex/carvex/parser/android/backup"
	"github.com/carvex/carvex/parser/android/bootimg"
	"github.com/carvex/carvex/parser/android/dex"
	"github.com/carvex/carvex/parser/android/odex"
	"github.com/carvex/carvex/parser/android/sparsedata"
	"github.com/carvex/carvex/parser/android/sparseimg"
	"github.com/carvex/carvex/parser/android/tzdata"
	"github.com/carvex/carvex/parser/android/vendorboot"
	"github.com/carvex/carvex/parser/archive/ar"
	"github.com/carvex/carvex/parser/archive/cpio"
	"github.com/carvex/carvex/parser/archive/sevenzip"
	"github.com/carvex/carvex/parser/archive/tarfmt"
	"github.com/carvex/carvex/parser/archive/xar"
	"github.com/carvex/carvex/parser/archive/zip"
	"github.com/carvex/carvex/parser/compress/bzip2"
	"github.com/carvex/carvex/parser/compress/gzip"
	"github.com/carvex/carvex/parser/compress/lz4"
	"github.com/carvex/carvex/parser/compress/lzip"
	"github.com/carvex/carvex/parser/compress/lzma"
	"github.com/carvex/carvex/parser/compress/lzop"
	"github.com/carvex/carvex/parser/compress/snappy"
	"github.com/carvex/carvex/parser/compress/xz"
	"github.com/carvex/carvex/parser/compress/zstd"
	"github.com/carvex/carvex/parser/filesystem/cbfs"
	"github.com/carvex/carvex/parser/filesystem/cramfs"
	"github.com/carvex/carvex/parser/filesystem/dlinkromfs"
	"github.com/carvex/carvex/parser/filesystem/ext2"
	"github.com/carvex/carvex/parser/filesystem/fat"
	"github.com/carvex/carvex/parser/filesystem/iso9660"
	"github.com/carvex/carvex/parser/filesystem/jffs2"
	"github.com/carvex/carvex/parser/filesystem/minix"
	"github.com/carvex/carvex/parser/filesystem/romfs"
	"github.com/carvex/carvex/parser/filesystem/squashfs"
	"github.com/carvex/carvex/parser/image/vmimage"
	"github.com/carvex/carvex/parser/media/aiff"
	"github.com/carvex/carvex/parser/media/ani"
	"github.com/carvex/carvex/parser/media/au"
	"github.com/carvex/carvex/parser/media/bmp"
	"github.com/carvex/carvex/parser/media/dds"
	"github.com/carvex/carvex/parser/media/flv"
	"github.com/carvex/carvex/parser/media/gif"
	"github.com/carvex/carvex/parser/media/gimpbrush"
	"github.com/carvex/carvex/parser/media/icns"
	"github.com/carvex/carvex/parser/media/ico"
	"github.com/carvex/carvex/parser/media/jpeg"
	"github.com/carvex/carvex/parser/media/ktx"
	"github.com/carvex/carvex/parser/media/midi"
	"github.com/carvex/carvex/parser/media/mng"
	"github.com/carvex/carvex/parser/media/pdf"
	"github.com/carvex/carvex/parser/media/png"
	"github.com/carvex/carvex/parser/media/pnm"
	"github.com/carvex/carvex/parser/media/psd"
	"github.com/carvex/carvex/parser/media/sgi"
	"github.com/carvex/carvex/parser/media/sunraster"
	"github.com/carvex/carvex/parser/media/swf"
	"github.com/carvex/carvex/parser/media/wav"
	"github.com/carvex/carvex/parser/media/webp"
	"github.com/carvex/carvex/parser/media/xg3d"
	"github.com/carvex/carvex/parser/resource/chromepak"
	"github.com/carvex/carvex/parser/text/basetext"
	"github.com/carvex/carvex/parser/text/srec"
)

// New returns a Registry with every parser this module implements
// registered under its canonical Name(). Callers needing only a subset
// (e.g. a test exercising one format) should build a bare
// carver.NewRegistry() and Register just that parser instead of calling
// New and ignoring the rest.
func New() *carver.Registry {
	r := carver.NewRegistry()
	for _, p := range All() {
		r.Register(p)
	}
	return r
}

// All returns one instance of every parser this module implements, in
// the order they're constructed here (New sorts by name before exposing
// them through the Registry, so this slice's order isn't itself a
// contract).
func All() []carver.Parser {
	return []carver.Parser{
		gif.Parser{},
		png.Parser{},
		pdf.Parser{},
		zip.Parser{},
		tarfmt.Parser{},
		cpio.Parser{},
		ar.Parser{},
		xar.Parser{},
		sevenzip.Parser{},
		sparsedata.Parser{},
		sparseimg.Parser{},
		dex.Parser{},
		avb.Parser{},
		bootimg.Parser{},
		tzdata.Parser{},
		jffs2.Parser{},
		squashfs.Parser{},
		ext2.Parser{},
		cramfs.Parser{},
		vmimage.Parser{},
		iso9660.Parser{},
		gzip.Parser{},
		xz.Parser{},
		bzip2.Parser{},
		zstd.Parser{},
		lz4.Parser{},
		lzma.Parser{},
		lzip.Parser{},
		lzop.Parser{},
		snappy.Parser{},
		backup.Parser{},
		chromepak.Parser{},
		odex.Parser{},
		arsc.Parser{},
		vendorboot.Parser{},
		srec.Parser{},
		basetext.Parser{},
		minix.Parser{},
		romfs.Parser{},
		fat.Parser{},
		cbfs.Parser{},
		dlinkromfs.Parser{},
		bmp.Parser{},
		jpeg.Parser{},
		webp.Parser{},
		wav.Parser{},
		ani.Parser{},
		aiff.Parser{},
		au.Parser{},
		sunraster.Parser{},
		icns.Parser{},
		ico.Parser{},
		sgi.Parser{},
		mng.Parser{},
		swf.Parser{},
		flv.Parser{},
		gimpbrush.Parser{},
		midi.Parser{},
		dds.Parser{},
		xg3d.Parser{},
		ktx.Parser{},
		psd.Parser{},
		pnm.Parser{},
	}
}
