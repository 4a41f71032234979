// Package main is the entry point for the pvectl CLI.
//
// pvectl talks to a running monitor: it issues guest commands, reads
// connection state and diagnostics and changes live options. It also mints
// API tokens and encrypts cluster token values for the connections file.
//
// For detailed usage information, run:
//
//	pvectl --help
package main

import (
	"fmt"
	"os"

	"github.com/narvanalabs/pve-monitor/cmd/pvectl/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
