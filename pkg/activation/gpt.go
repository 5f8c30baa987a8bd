package activation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Attrs mirrors the GPT Slot Attributes from the data model: priority,
// tries, successful.
type Attrs struct {
	Priority   int
	Tries      int
	Successful bool
}

// GPTTool wraps invocation of the image-bundled GPT attribute tool (a
// cgpt/sgdisk equivalent). Path is the tool binary; Exec controls how it's
// invoked.
type GPTTool struct {
	Exec Executor
	Path string
}

// Repair normalizes the GPT on device ("repair <device>").
func (t *GPTTool) Repair(ctx context.Context, device string) error {
	if _, err := t.Exec.Run(ctx, t.Path, "repair", device); err != nil {
		return fmt.Errorf("gpt repair %s: %w", device, err)
	}
	return nil
}

// SetAttrs marks the slot "try once, not yet proven":
// `add -S<successful> -T<tries> <device>`.
func (t *GPTTool) SetAttrs(ctx context.Context, device string, successful bool, tries int) error {
	s := 0
	if successful {
		s = 1
	}
	args := []string{"add", fmt.Sprintf("-S%d", s), fmt.Sprintf("-T%d", tries), device}
	if _, err := t.Exec.Run(ctx, t.Path, args...); err != nil {
		return fmt.Errorf("gpt %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

// Prioritize raises device's slot above its peer ("prioritize <device>").
// The tool itself is responsible for picking a priority value strictly
// greater than the peer's, capped at its defined maximum.
func (t *GPTTool) Prioritize(ctx context.Context, device string) error {
	if _, err := t.Exec.Run(ctx, t.Path, "prioritize", device); err != nil {
		return fmt.Errorf("gpt prioritize %s: %w", device, err)
	}
	return nil
}

// Show returns device's current GPT attributes, parsed from the tool's
// diagnostic `show` output (key=value tokens, shlex-split the same way
// pkg/block parses blkid output).
func (t *GPTTool) Show(ctx context.Context, device string) (Attrs, error) {
	out, err := t.Exec.Run(ctx, t.Path, "show", device)
	if err != nil {
		return Attrs{}, fmt.Errorf("gpt show %s: %w", device, err)
	}
	return parseShow(out)
}

func parseShow(out []byte) (Attrs, error) {
	var a Attrs
	fields, err := shlex.Split(strings.TrimSpace(string(out)))
	if err != nil {
		return a, fmt.Errorf("parsing gpt show output %q: %w", out, err)
	}
	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "priority":
			a.Priority, _ = strconv.Atoi(kv[1])
		case "tries":
			a.Tries, _ = strconv.Atoi(kv[1])
		case "successful":
			a.Successful = kv[1] == "1"
		}
	}
	return a, nil
}
