// Package bootimg implements the Android boot image parser (spec.md
// §4.5, "Android boot image"): the page-aligned header naming the
// kernel, ramdisk, and optional second-stage payloads.
//
// Grounded on the shared six-step skeleton; the page-alignment arithmetic
// mirrors parser/filesystem/jffs2's erase-block alignment helper, reused
// here for boot image pages instead of flash erase blocks.
package bootimg

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
	formatName = "android-boot-image"
	magicSize  = 8
)

// Parser implements carver.Parser for the Android boot image format.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"img"} }
func (Parser) Signatures() [][]byte { return [][]byte{[]byte("ANDROID!")} }
func (Parser) PrettyName() string   { return "Android boot image" }

func alignUp(v, to int64) int64 {
	if rem := v % to; rem != 0 {
		return v + (to - rem)
	}
	return v
}

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	c := bcursor.New(region, offset, filesize-offset)

	magic, err := c.Bytes(magicSize)
	if err != nil {
		return carver.FromError(err)
	}
	if string(magic) != "ANDROID!" {
		return carver.FromError(errtax.BadMagicf(offset, "android-boot-image: bad magic %q", magic))
	}

	kernelSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U32LE(); err != nil { // kernel_addr
		return carver.FromError(err)
	}
	ramdiskSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U32LE(); err != nil { // ramdisk_addr
		return carver.FromError(err)
	}
	secondSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if _, err := c.U32LE(); err != nil { // second_addr
		return carver.FromError(err)
	}
	if _, err := c.U32LE(); err != nil { // tags_addr
		return carver.FromError(err)
	}
	pageSize, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return carver.FromError(errtax.BadFieldf(offset, "android-boot-image: page_size %d not a power of two", pageSize))
	}
	headerVersion, err := c.U32LE()
	if err != nil {
		return carver.FromError(err)
	}
	if headerVersion > 2 {
		return carver.FromError(errtax.BadVersionf(offset, "android-boot-image: header_version %d > 2", headerVersion))
	}
	if _, err := c.U32LE(); err != nil { // os_version
		return carver.FromError(err)
	}
	if _, err := c.Bytes(16); err != nil { // name
		return carver.FromError(err)
	}
	if _, err := c.Bytes(512); err != nil { // cmdline
		return carver.FromError(err)
	}
	if _, err := c.Bytes(32); err != nil { // id
		return carver.FromError(err)
	}
	if _, err := c.Bytes(1024); err != nil { // extra_cmdline
		return carver.FromError(err)
	}

	if kernelSize == 0 {
		return carver.FromError(errtax.BadFieldf(offset, "android-boot-image: kernel size is zero"))
	}
	if ramdiskSize == 0 {
		return carver.FromError(errtax.BadFieldf(offset, "android-boot-image: ramdisk size is zero"))
	}

	page := int64(pageSize)
	headerPages := alignUp(c.Pos()-offset, page)
	kernelPages := alignUp(int64(kernelSize), page)
	ramdiskPages := alignUp(int64(ramdiskSize), page)
	secondPages := alignUp(int64(secondSize), page)

	kernelOff := headerPages
	ramdiskOff := kernelOff + kernelPages
	secondOff := ramdiskOff + ramdiskPages
	length := secondOff + secondPages
	if length > filesize-offset {
		return carver.FromError(errtax.NotEnoughDataf(offset, "android-boot-image: declared image extends past region"))
	}

	writeSegment := func(name string, at, size int64) (carver.Artifact, *errtax.Error) {
		buf := make([]byte, size)
		if _, rerr := region.ReadAt(buf, offset+at); rerr != nil {
			return carver.Artifact{}, errtax.IOf(offset, rerr, "android-boot-image: reading %s segment", name)
		}
		if werr := carveio.WriteFile(env.UnpackPath(name), buf); werr != nil {
			return carver.Artifact{}, werr
		}
		labels := label.NewSet(formatName, label.Android, label.Unpacked)
		return carver.Artifact{RelPath: name, Labels: labels}, nil
	}

	var artifacts []carver.Artifact
	kernel, werr := writeSegment("kernel", kernelOff, int64(kernelSize))
	if werr != nil {
		carveio.RemoveAll(env.UnpackPath("kernel"))
		return carver.FromError(werr)
	}
	artifacts = append(artifacts, kernel)

	ramdisk, werr := writeSegment("ramdisk", ramdiskOff, int64(ramdiskSize))
	if werr != nil {
		carveio.RemoveAll(env.UnpackPath("kernel"), env.UnpackPath("ramdisk"))
		return carver.FromError(werr)
	}
	artifacts = append(artifacts, ramdisk)

	if secondSize > 0 {
		second, werr := writeSegment("second", secondOff, int64(secondSize))
		if werr != nil {
			carveio.RemoveAll(env.UnpackPath("kernel"), env.UnpackPath("ramdisk"), env.UnpackPath("second"))
			return carver.FromError(werr)
		}
		artifacts = append(artifacts, second)
	}

	return carver.Succeed(length, label.Set{}, artifacts, nil)
}
