// Package vmimage implements the VDI/VMDK/qcow2 virtual-disk parser
// (spec.md §4.5, "VDI/VMDK/qcow2"): these formats are carved full-file
// only, native header validation picks the concrete format, and
// conversion to a raw image is delegated to the `qemu-img` external
// tool gateway (spec.md §6.3).
//
// Grounded on the shared six-step skeleton plus internal/extool, in the
// same stage-then-convert shape parser/filesystem/squashfs uses for its
// own external tool.
package vmimage

import (
	"bytes"
	"context"
	"time"

	"github.com/carvex/carvex/carver"
	"github.com/carvex/carvex/internal/bcursor"
	"github.com/carvex/carvex/internal/errtax"
	"github.com/carvex/carvex/internal/extool"
	"github.com/carvex/carvex/internal/label"
	"github.com/carvex/carvex/internal/pathname"
	"github.com/carvex/carvex/internal/scanenv"
	"github.com/carvex/carvex/internal/stage"
)

const (
	formatName  = "vmimage"
	toolTimeout = 5 * time.Minute
)

// Parser implements carver.Parser for VDI, VMDK, and qcow2 disk images.
type Parser struct{}

func (Parser) Name() string         { return formatName }
func (Parser) Extensions() []string { return []string{"vdi", "vmdk", "qcow2"} }
func (Parser) Signatures() [][]byte {
	return [][]byte{
		{0x3c, 0x3c, 0x3c, 0x20}, // VDI "<<< Sun..." / "<<< Oracle..." comment prefix
		[]byte("KDMV"),           // VMDK sparse extent
		[]byte("QFI\xfb"),        // qcow2
	}
}
func (Parser) PrettyName() string { return "virtual machine disk image" }

type kind int

const (
	vdi kind = iota
	vmdk
	qcow2
)

func (Parser) Parse(ctx context.Context, region carver.Region, filesize, offset int64, env scanenv.Environment) carver.Result {
	if !carver.WholeFile(offset, filesize-offset, filesize) {
		return carver.FromError(errtax.New(errtax.UnsupportedFeature, offset, "vmimage: carried full-file only, region is embedded"))
	}

	head := make([]byte, 512)
	n, rerr := region.ReadAt(head, offset)
	if rerr != nil && n == 0 {
		return carver.FromError(errtax.NotEnoughDataf(offset, "vmimage: region too small for header"))
	}
	head = head[:n]

	k, ferr := identify(head)
	if ferr != nil {
		return carver.FromError(ferr)
	}

	var tool extool.Tool = extool.QemuImg
	var fmtFlag string
	switch k {
	case vdi:
		fmtFlag = "vdi"
	case vmdk:
		fmtFlag = "vmdk"
	case qcow2:
		fmtFlag = "qcow2"
	}

	if !extool.Available(tool) {
		return carver.FromError(errtax.New(errtax.ExternalToolUnavailable, offset, "vmimage: qemu-img not found on PATH"))
	}

	length := filesize - offset
	relName := pathname.SingleFileName("raw")
	dest := env.UnpackPath(relName)

	serr := stage.Scope(env.TemporaryDirectory, "vmimage-*."+fmtFlag, func(f *stage.File) error {
		buf := make([]byte, length)
		if _, rerr := region.ReadAt(buf, offset); rerr != nil {
			return rerr
		}
		if _, werr := f.Write(buf); werr != nil {
			return werr
		}
		_, terr := extool.Run(ctx, tool, toolTimeout, "convert", "-f", fmtFlag, "-O", "raw", f.Name(), dest)
		if terr != nil {
			return terr
		}
		return nil
	})
	if serr != nil {
		if terr, ok := serr.(*errtax.Error); ok {
			return carver.FromError(terr)
		}
		return carver.FromError(errtax.IOf(offset, serr, "vmimage: conversion failed"))
	}

	artifacts := []carver.Artifact{
		{RelPath: relName, Labels: label.NewSet(formatName, label.Filesystem, label.Unpacked)},
	}
	return carver.Succeed(length, label.Set{}, artifacts, map[string]any{"format": fmtFlag})
}

// identify distinguishes the three supported disk-image formats from
// their fixed-offset header fields.
func identify(head []byte) (kind, *errtax.Error) {
	switch {
	case len(head) >= 4 && bytes.Equal(head[0:4], []byte("QFI\xfb")):
		return qcow2, nil
	case len(head) >= 4 && bytes.Equal(head[0:4], []byte("KDMV")):
		return vmdk, nil
	case len(head) >= 4 && bytes.Equal(head[0:4], []byte{0x3c, 0x3c, 0x3c, 0x20}):
		if len(head) < 72 {
			return 0, errtax.NotEnoughDataf(0, "vmimage: VDI header truncated")
		}
		c := bcursor.New(bytes.NewReader(head), 0, int64(len(head)))
		c.Seek(64)
		sig, err := c.U32LE()
		if err != nil {
			return 0, err
		}
		if sig != 0xbeda107f {
			return 0, errtax.BadMagicf(0, "vmimage: bad VDI signature %#08x", sig)
		}
		return vdi, nil
	default:
		return 0, errtax.BadMagicf(0, "vmimage: unrecognized disk image header")
	}
}
