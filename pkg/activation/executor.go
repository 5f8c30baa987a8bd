// Package activation implements the Slot Activator (C7): deriving the
// target Slot Identity, staging the kernel image into the ESP, invoking an
// optional vendor hook, and updating GPT boot-control attributes so the
// bootloader tries the new slot next boot.
package activation

import (
	"context"
	"os/exec"
)

// Executor runs a GPT tool binary. When an image loader is configured,
// production code goes through ImageExecutor, which invokes the tool via
// the *new* image's own dynamic
// linker and library path rather than the host's, since the host libc may
// predate what the bundled tool requires.
type Executor interface {
	Run(ctx context.Context, bin string, args ...string) ([]byte, error)
}

// HostExecutor runs bin directly via the host's own loader. Used for tools
// that don't need image-linker compatibility, and by tests.
type HostExecutor struct{}

func (HostExecutor) Run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).CombinedOutput()
}

// ImageExecutor invokes bin through Loader (the new image's ld.so) with
// LibPath as the library search path, guaranteeing ABI compatibility with
// the image being activated rather than the currently-running host. If
// Loader is empty it falls back to HostExecutor, which is convenient for
// tests and for tools with no such requirement.
type ImageExecutor struct {
	Loader  string
	LibPath string
}

var _ Executor = (*ImageExecutor)(nil)
var _ Executor = HostExecutor{}

func (e *ImageExecutor) Run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	if e.Loader == "" {
		return HostExecutor{}.Run(ctx, bin, args...)
	}
	full := append([]string{"--library-path", e.LibPath, bin}, args...)
	return exec.CommandContext(ctx, e.Loader, full...).CombinedOutput()
}
