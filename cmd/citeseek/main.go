// Package main provides the entry point for the citeseek server.
package main

import (
	"os"

	"github.com/citeseek/citeseek/cmd/citeseek/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
