// Command conductor runs a P/ACP proxy chain between an editor and a
// downstream agent.
package main

import (
	"fmt"
	"os"

	"conductor/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}

	os.Exit(cli.ExitCode(rootCmd))
}
