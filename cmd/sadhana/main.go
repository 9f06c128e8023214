// Command sadhana runs the session telemetry service and its maintenance
// commands.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sadhana/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
