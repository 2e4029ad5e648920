// Package main provides the entry point for the raptor CLI.
package main

import (
	"os"

	"github.com/new2f7/raptor/cmd/raptor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
