package activation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/arithx/update-engine/pkg/block"
	"github.com/arithx/update-engine/pkg/log"
)

var alog = log.For(log.Activation)

// Kind is the error-kind taxonomy for activation failures: slot
// resolution, ESP discovery, GPT/staging, and vendor-hook failures.
type Kind string

const (
	KindSlotResolutionError Kind = "SlotResolutionError"
	KindESPNotFound         Kind = "ESPNotFound"
	KindActivationError     Kind = "ActivationError"
	KindHookError           Kind = "HookError"
)

// Error is the typed error every activation step returns, carrying its
// taxonomy Kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Activator performs the Slot Activator's effects against a single target
// device.
type Activator struct {
	GPT         *GPTTool
	KernelImage string // path to the kernel image to stage, from the install tree
	VendorHook  string // path to the optional vendor hook; empty disables it
	MountDir    string // mountpoint used if the ESP isn't already mounted
	LockDir     string // directory holding per-device advisory lock files

	Remediations []Remediation
}

// Activate derives device's Slot Identity, stages the kernel image into
// the ESP, runs the vendor hook and any applicable remediations, and
// updates GPT boot-control attributes so the bootloader tries this slot
// next boot. On any failure, only device's own partition may have been
// touched; the peer slot is never written.
func (a *Activator) Activate(ctx context.Context, device string) error {
	lock := newDeviceLock(a.lockPath(device))
	if err := lock.Lock(ctx); err != nil {
		return &Error{Kind: KindActivationError, Err: err}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			alog.Logf("releasing lock for %s: %s", device, err)
		}
	}()

	info, err := block.GetInfo(device)
	if err != nil {
		return &Error{Kind: KindSlotResolutionError, Err: err}
	}
	slot, err := block.SlotFromLabel(info.Label)
	if err != nil {
		return &Error{Kind: KindSlotResolutionError, Err: err}
	}
	alog.Logf("%s resolved to slot %s", device, slot)

	espDevice, err := block.FindESP()
	if err != nil {
		return &Error{Kind: KindESPNotFound, Err: err}
	}
	mount, err := block.MountESP(espDevice, a.MountDir)
	if err != nil {
		return &Error{Kind: KindESPNotFound, Err: err}
	}
	defer func() {
		if err := mount.Release(); err != nil {
			alog.Logf("releasing ESP mount for %s: %s", espDevice, err)
		}
	}()
	stagingRoot := mount.Path

	// Kernel staging and the vendor hook don't depend on each other's
	// completion, so run them concurrently; errgroup bounds them to this
	// one pair and cancels the hook's context if either fails (kernel
	// staging itself takes no context).
	g, gctx := errgroup.WithContext(ctx)
	var kernelDest string
	g.Go(func() error {
		dest, err := stageKernel(a.KernelImage, stagingRoot, slot)
		if err != nil {
			return &Error{Kind: KindActivationError, Err: err}
		}
		kernelDest = dest
		return nil
	})
	g.Go(func() error {
		if err := runVendorHook(gctx, a.VendorHook, slot, stagingRoot); err != nil {
			return &Error{Kind: KindHookError, Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	_ = kernelDest

	if err := applyRemediations(ctx, a.Remediations, slot, stagingRoot); err != nil {
		return &Error{Kind: KindActivationError, Err: err}
	}

	if err := a.GPT.Repair(ctx, device); err != nil {
		return &Error{Kind: KindActivationError, Err: err}
	}
	if err := a.GPT.SetAttrs(ctx, device, false, 1); err != nil {
		return &Error{Kind: KindActivationError, Err: err}
	}
	if err := a.GPT.Prioritize(ctx, device); err != nil {
		return &Error{Kind: KindActivationError, Err: err}
	}

	alog.Logf("slot %s on %s activated", slot, device)
	return nil
}

func (a *Activator) lockPath(device string) string {
	dir := a.LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "update-engine-activation-"+filepath.Base(device)+".lock")
}
