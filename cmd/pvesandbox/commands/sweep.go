package commands

import (
	"github.com/spf13/cobra"

	"github.com/jcreedy/pvesandbox/cmd/pvesandbox/handlers"
)

// Sweep returns the command for removing all leftover sandbox resources.
func Sweep() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove all leftover sandbox resources",
		Long: `Find and remove every sandbox-owned resource on the node.

Sweep selects VMs by their ownership tag and zones by the session naming
pattern, so it also catches sessions whose creating process crashed.
Cached templates are kept.

Examples:
  # Interactive sweep with confirmation
  pvesandbox sweep

  # Non-interactive sweep, e.g. from CI
  pvesandbox sweep --yes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Sweep(cmd.Context(), yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
