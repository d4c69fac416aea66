// Package main provides the entry point for the ccengram CLI.
package main

import (
	"os"

	"github.com/ccengram/ccengram/cmd/ccengram/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
