// Command update-engine drives one A/B update attempt: check, download,
// verify, and finalize, exposing progress over an optional websocket push
// channel in place of the D-Bus surface this core leaves to a bus layer.
package main

import (
	"fmt"
	"os"

	"github.com/arithx/update-engine/internal/cmd"
)

var version = "dev"

func main() {
	if err := cmd.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
