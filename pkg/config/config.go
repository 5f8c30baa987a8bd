// Package config loads the engine's static configuration: where to reach
// the update-check collaborator, the chunk size budget, the ESP mountpoint,
// and the paths to the GPT tool and optional vendor hook.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the engine's top-level configuration, loaded from a single
// TOML file.
type Config struct {
	// UpdateServerURL is the base URL of the update server. It is loaded
	// but not read by anything in this module: internal/updatecheck's
	// FileChecker reads a local descriptor instead.
	UpdateServerURL string `toml:"update_server_url"`
	// ChunkBytes is a chunk size budget. It is loaded but not read by the
	// fetchers: xfer.HTTPFetcher always delivers chunks of at most
	// xfer.ChunkMax bytes.
	ChunkBytes int `toml:"chunk_bytes"`
	// CheckInterval is how often an external scheduler should call
	// AttemptUpdate; the engine itself does not self-schedule.
	CheckInterval Duration `toml:"check_interval"`

	// GPTToolPath is the image-bundled GPT attribute tool binary.
	GPTToolPath string `toml:"gpt_tool_path"`
	// ImageLoaderPath, if set, is the new image's own dynamic linker,
	// used to invoke GPTToolPath with ABI compatibility independent of
	// the host's libc.
	ImageLoaderPath string `toml:"image_loader_path"`
	// ImageLibPath is the library search path passed alongside
	// ImageLoaderPath.
	ImageLibPath string `toml:"image_lib_path"`
	// VendorHookPath is the optional OEM finalization hook; empty
	// disables it.
	VendorHookPath string `toml:"vendor_hook_path"`
	// ESPMountDir is the mountpoint used when the ESP isn't already
	// mounted.
	ESPMountDir string `toml:"esp_mount_dir"`

	// HistoryPath is the bitcask database directory for attempt history.
	HistoryPath string `toml:"history_path"`
	// PushListenAddr, if non-empty, serves the websocket push channel
	// (the run command's --listen flag takes precedence).
	PushListenAddr string `toml:"push_listen_addr"`
	// LogJSON selects newline-delimited JSON log output (for a collector)
	// instead of the default human-readable console stream; see
	// pkg/log.SetOutput.
	LogJSON bool `toml:"log_json"`
}

// Duration wraps time.Duration with TOML (un)marshaling via its string
// form ("90s", "24h"), since go-toml/v2 has no native duration type.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with conservative defaults, suitable for
// overriding field-by-field before or after Load.
func Default() Config {
	return Config{
		ChunkBytes:     64 * 1024,
		CheckInterval:  Duration{1 * time.Hour},
		GPTToolPath:    "/usr/bin/cgpt",
		ESPMountDir:    "/tmp/esp",
		HistoryPath:    "/var/lib/update-engine/history",
		PushListenAddr: "",
	}
}

// Load reads and parses a TOML config file at path, starting from
// Default() so unset fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
