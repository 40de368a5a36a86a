// Package main provides the specpipe CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/specpipe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
