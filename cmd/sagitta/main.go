// Package main provides the entry point for the sagitta CLI.
package main

import (
	"os"

	"github.com/llamaha/sagitta-sub001/cmd/sagitta/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
