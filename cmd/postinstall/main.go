// Command postinstall is the Slot Activator's finalizer entrypoint. It is
// invoked as:
//
//	postinstall <target_device> KERNEL=<kernel_name> [KEY=VALUE ...]
//
// The target device's GPT partition label determines the slot; KERNEL
// names the kernel image to stage (resolved against --kernel-dir). Other
// KEY=VALUE tokens are accepted and ignored. Exits 0 on success; non-zero
// with a one-line diagnostic on stderr for any fatal condition.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/arithx/update-engine/pkg/activation"
	"github.com/arithx/update-engine/pkg/config"
	"github.com/arithx/update-engine/pkg/log"
)

var plog = log.For(log.Postinstall)

func main() {
	configPath := flag.String("config", "/etc/update-engine/config.toml", "path to the engine config file")
	kernelDir := flag.String("kernel-dir", "/usr/boot", "directory holding the kernel image named by the KERNEL= token")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		plog.Fatalf("usage: postinstall <target_device> KERNEL=<kernel_name> [KEY=VALUE ...]")
	}
	device := args[0]

	kernelName := ""
	for _, tok := range args[1:] {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		if k == "KERNEL" {
			kernelName = v
		}
	}
	if kernelName == "" {
		plog.Fatalf("missing required KERNEL=<name> token")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		plog.Logf("%s; continuing with defaults", err)
		cfg = config.Default()
	}

	var exec activation.Executor = activation.HostExecutor{}
	if cfg.ImageLoaderPath != "" {
		exec = &activation.ImageExecutor{Loader: cfg.ImageLoaderPath, LibPath: cfg.ImageLibPath}
	}

	act := &activation.Activator{
		GPT:         &activation.GPTTool{Exec: exec, Path: cfg.GPTToolPath},
		KernelImage: filepath.Join(*kernelDir, kernelName),
		VendorHook:  cfg.VendorHookPath,
		MountDir:    cfg.ESPMountDir,
	}

	if err := act.Activate(context.Background(), device); err != nil {
		kind := activation.KindActivationError
		cause := err
		if ae, ok := err.(*activation.Error); ok {
			kind = ae.Kind
			cause = ae.Err
		}
		plog.Fatalf("%s: %s", kind, cause)
	}
	os.Exit(0)
}
