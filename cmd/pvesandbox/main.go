// Package main is the entry point for the pvesandbox CLI.
//
// pvesandbox provisions disposable VM sandboxes on a Proxmox VE node:
// isolated SDN networks, VMs cloned from cached templates, and a teardown
// that survives crashes of the provisioning process.
//
// Commands: up, down, sweep.
//
// For detailed usage information, run:
//
//	pvesandbox --help
package main

import (
	"fmt"
	"os"

	"github.com/jcreedy/pvesandbox/cmd/pvesandbox/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
