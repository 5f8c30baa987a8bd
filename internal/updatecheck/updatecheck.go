// Package updatecheck provides a stand-in for the Omaha-style update-check
// HTTP client, which this core models only by its output contract: an
// Install Plan, a human-readable version string, and an availability
// flag. FileChecker satisfies pkg/service.Checker by reading that triple
// from a local descriptor file, useful for manual runs and local testing
// without a real update server.
package updatecheck

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/arithx/update-engine/pkg/plan"
)

// descriptor is the on-disk shape FileChecker reads. PayloadHashHex is
// hex-decoded into plan.Plan's raw PayloadHash bytes.
type descriptor struct {
	Available      bool   `json:"available"`
	Version        string `json:"version"`
	IsFullUpdate   bool   `json:"is_full_update"`
	URL            string `json:"url"`
	PayloadSize    uint64 `json:"payload_size"`
	PayloadHashHex string `json:"payload_hash_hex"`
	InstallPath    string `json:"install_path"`
}

// FileChecker implements pkg/service.Checker by reading a fixed JSON
// descriptor file on every Check call.
type FileChecker struct {
	Path string
}

func (c FileChecker) Check(ctx context.Context) (plan.Plan, string, bool, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return plan.Plan{}, "", false, fmt.Errorf("reading update descriptor %s: %w", c.Path, err)
	}
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return plan.Plan{}, "", false, fmt.Errorf("parsing update descriptor %s: %w", c.Path, err)
	}
	if !d.Available {
		return plan.Plan{}, "", false, nil
	}
	hash, err := hex.DecodeString(d.PayloadHashHex)
	if err != nil {
		return plan.Plan{}, "", false, fmt.Errorf("decoding payload_hash_hex: %w", err)
	}
	p := plan.New(d.IsFullUpdate, d.URL, d.PayloadSize, hash, d.InstallPath)
	return p, d.Version, true, nil
}
