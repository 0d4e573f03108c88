package commands

import (
	"github.com/spf13/cobra"

	"github.com/jcreedy/pvesandbox/cmd/pvesandbox/handlers"
)

// Up returns the command for provisioning a sandbox session.
//
// Flags:
//
//	--config, -c: path to the session configuration YAML file (default: sandbox.yaml)
//	--out, -o:    write the session result (prefix, VMs) as YAML to a file
//	--name, -n:   seed the session prefix letters, so resources are recognizable
//	--keep:       leave resources in place when provisioning fails
//
// Environment variables:
//
//	PVESBX_URL, PVESBX_NODE, PVESBX_USER, PVESBX_PASSWORD (required)
//	PVESBX_STORAGE, PVESBX_DISK_STORAGE, PVESBX_INSECURE_TLS (optional)
func Up() *cobra.Command {
	var (
		configPath string
		outPath    string
		name       string
		keep       bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create a sandbox session",
		Long: `Create a sandbox session on the configured Proxmox VE node.

Provisions the session networks, resolves or builds the VM templates, and
clones and starts the VMs. On failure or interrupt everything already
created is torn down again unless --keep is given.

Examples:
  # Create a session from sandbox.yaml in the current directory
  pvesandbox up

  # Create a session and record the result for later scripting
  pvesandbox up -c two-tier.yaml -o session.yaml

  # Name the session so its resources carry a recognizable prefix
  pvesandbox up -n demo`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Up(cmd.Context(), configPath, outPath, name, keep)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "sandbox.yaml", "Path to session configuration file")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write session result YAML to this file")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Seed the session prefix letters (e.g. demo -> dem421)")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep partial resources when provisioning fails")

	return cmd
}
