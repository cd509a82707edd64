// Package main is the entry point for the sitescout CLI.
package main

import (
	"os"

	"github.com/jmylchreest/sitescout/cmd/sitescout/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
