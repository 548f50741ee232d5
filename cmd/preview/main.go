// Package main provides the entry point for the preview CLI.
package main

import (
	"fmt"
	"os"

	"github.com/livepreview/preview/cmd/preview/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
