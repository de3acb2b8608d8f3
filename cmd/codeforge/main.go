// Package main provides the entry point for the CodeForge CLI.
package main

import (
	"fmt"
	"os"

	"github.com/forgesmith/codeforge/cmd/codeforge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
