// Package cmd implements the update-engine command-line surface: a cobra
// root command with subcommands that drive one update attempt end to end,
// standing in locally for the D-Bus com.coreos.update1.Manager control
// surface this core leaves to an external bus layer.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	planPath   string
	listenAddr string
)

// Execute builds and runs the root command.
func Execute(version string) error {
	root := &cobra.Command{
		Use:          "update-engine",
		Short:        "A/B update engine: fetch, verify, and stage an update payload",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/update-engine/config.toml", "path to the engine config file")

	root.AddCommand(newRunCmd())

	return root.Execute()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
