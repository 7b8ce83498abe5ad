// Package main provides the entry point for the engram CLI.
package main

import (
	"os"

	"github.com/engram-dev/engram/cmd/engram/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
