package activation

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/arithx/update-engine/pkg/block"
)

// runVendorHook invokes path, if it exists and is executable, with argv
// (slot_identity, staging_root). A missing hook is not an error; a present
// hook that exits non-zero is.
func runVendorHook(ctx context.Context, path string, slot block.Slot, stagingRoot string) error {
	if path == "" {
		return nil
	}
	if fi, err := os.Stat(path); err != nil || fi.Mode()&0111 == 0 {
		return nil
	}
	out, err := exec.CommandContext(ctx, path, string(slot), stagingRoot).CombinedOutput()
	if err != nil {
		return fmt.Errorf("vendor hook %s: %w (%s)", path, err, out)
	}
	return nil
}

// Remediation is a pluggable one-off compatibility patch applied during
// activation (a distro-name patch, a vmtoolsd drop-in, a docker-version
// flag, and similar hash-gated one-offs are the kind of thing that plugs
// in here). None are hard-coded: whether any given remediation is still
// necessary is a per-fleet decision, not a core one. The default
// remediation list is empty.
type Remediation interface {
	Applies(slot block.Slot, stagingRoot string) bool
	Apply(ctx context.Context, slot block.Slot, stagingRoot string) error
}

func applyRemediations(ctx context.Context, rs []Remediation, slot block.Slot, stagingRoot string) error {
	for _, r := range rs {
		if !r.Applies(slot, stagingRoot) {
			continue
		}
		if err := r.Apply(ctx, slot, stagingRoot); err != nil {
			return fmt.Errorf("remediation failed: %w", err)
		}
	}
	return nil
}
