// Package main provides the entry point for the waymark CLI.
package main

import (
	"os"

	"github.com/waymarklabs/waymark/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
