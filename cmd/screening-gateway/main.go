// Package main is the screening-gateway CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/holocare/screening-gateway/cmd/screening-gateway/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
