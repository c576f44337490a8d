// Package extool implements the External Tool Gateway (spec.md §4.3,
// §6.3): a typed-error shell-out wrapper for the few formats without a
// native decoder (squashfs, ext2/3/4, cramfs, qcow2/vmdk/vdi).
//
// Grounded on the os/exec-plus-typed-error-wrapping style used throughout
// quay-claircore's internal/rpm and internal/dnf packages for invoking
// system package-management tools.
package extool

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/carvex/carvex/internal/errtax"
)

// Tool names the optional executables specific parsers consult
// (spec.md §6.3). Presence is verified at call time, not at startup.
type Tool string

const (
	Unsquashfs Tool = "unsquashfs"
	E2ls       Tool = "e2ls"
	E2cp       Tool = "e2cp"
	FsckCramfs Tool = "fsck.cramfs"
	QemuImg    Tool = "qemu-img"
)

// Run invokes tool with args, enforcing timeout, and translates the two
// failure modes spec.md §7 names: ExternalToolUnavailable when the binary
// isn't on PATH, ExternalToolFailed when it runs but exits non-zero. A run
// killed by the timeout is reported as an IO error instead.
func Run(ctx context.Context, tool Tool, timeout time.Duration, args ...string) (stdout []byte, err *errtax.Error) {
	path, lookErr := exec.LookPath(string(tool))
	if lookErr != nil {
		return nil, errtax.New(errtax.ExternalToolUnavailable, 0, "%s not found on PATH", tool)
	}

	cctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cctx, path, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if runErr := cmd.Run(); runErr != nil {
		if cctx.Err() != nil {
			return nil, errtax.Wrap(errtax.IO, 0, cctx.Err(), "%s timed out", tool)
		}
		return nil, errtax.Wrap(errtax.ExternalToolFailed, 0, runErr, "%s failed: %s", tool, errBuf.String())
	}
	return out.Bytes(), nil
}

// Available reports whether tool is present on PATH, without invoking it.
func Available(tool Tool) bool {
	_, err := exec.LookPath(string(tool))
	return err == nil
}
