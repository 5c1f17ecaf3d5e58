// Command evalbench is the evalbench CLI.
package main

import (
	"os"

	"github.com/instantcocoa/evalbench/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
