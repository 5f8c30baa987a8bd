package activation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/arithx/update-engine/pkg/block"
)

// legacyCmdlineMarker is the kernel cmdline substring that gates the legacy
// bootloader compatibility path, matching the real ChromeOS convention.
const legacyCmdlineMarker = "cros_legacy"

// defaultCfgMarker tags a syslinux default.cfg this engine wrote. A
// default.cfg that is missing or lacks the marker is (re)written; one that
// already carries it is left as it is.
const defaultCfgMarker = "# managed by update-engine"

// legacyBootRequested reports whether /proc/cmdline carries the legacy
// marker.
func legacyBootRequested() bool {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return false
	}
	return strings.Contains(string(data), legacyCmdlineMarker)
}

// stageKernel copies the kernel image at kernelSrc into the ESP under its
// canonical slot-specific name, and additionally writes legacy loader
// configs if the running system requests the legacy compatibility path.
func stageKernel(kernelSrc, stagingRoot string, slot block.Slot) (string, error) {
	destDir := filepath.Join(stagingRoot, "coreos")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, fmt.Sprintf("vmlinuz-%s", strings.ToLower(string(slot))))
	if err := copyFile(kernelSrc, dest); err != nil {
		return "", fmt.Errorf("staging kernel to %s: %w", dest, err)
	}

	if !legacyBootRequested() {
		return dest, nil
	}
	if err := stageLegacy(dest, stagingRoot, slot); err != nil {
		return "", err
	}
	return dest, nil
}

func stageLegacy(kernelPath, stagingRoot string, slot block.Slot) error {
	sysDir := filepath.Join(stagingRoot, "syslinux")
	if err := os.MkdirAll(sysDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", sysDir, err)
	}

	legacyKernel := filepath.Join(sysDir, fmt.Sprintf("vmlinuz.%s", slot))
	if err := copyFile(kernelPath, legacyKernel); err != nil {
		return fmt.Errorf("staging legacy kernel to %s: %w", legacyKernel, err)
	}

	cfgPath := filepath.Join(sysDir, fmt.Sprintf("root.%s.cfg", slot))
	cfg := fmt.Sprintf("# root cfg for slot %s\ndefault vmlinuz.%s\n", slot, slot)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", cfgPath, err)
	}

	grubDir := filepath.Join(stagingRoot, "boot", "grub")
	if err := os.MkdirAll(grubDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", grubDir, err)
	}
	if err := appendMenuEntry(filepath.Join(grubDir, "menu.lst"), slot); err != nil {
		return err
	}

	defaultCfg := filepath.Join(sysDir, "default.cfg")
	if needsDefaultCfg(defaultCfg) {
		if err := os.WriteFile(defaultCfg, []byte(defaultCfgMarker+"\ndefault vmlinuz."+string(slot)+"\n"), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", defaultCfg, err)
		}
	}
	return nil
}

func needsDefaultCfg(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	return !strings.Contains(string(data), defaultCfgMarker)
}

func appendMenuEntry(path string, slot block.Slot) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "title CoreOS (slot %s)\n  kernel /syslinux/vmlinuz.%s\n", slot, slot)
	if err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
