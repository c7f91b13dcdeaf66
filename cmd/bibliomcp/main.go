// Package main provides the entry point for the bibliomcp CLI.
package main

import (
	"os"

	"github.com/bibliomcp/bibliomcp/cmd/bibliomcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
