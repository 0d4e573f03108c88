package commands

import (
	"github.com/spf13/cobra"

	"github.com/jcreedy/pvesandbox/cmd/pvesandbox/handlers"
)

// Down returns the command for tearing down a sandbox session by prefix.
func Down() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down <prefix>",
		Short: "Tear down a sandbox session",
		Long: `Tear down the session with the given prefix.

The session is located by scanning the node for its resources, so down
works even when the process that created the session is long gone.

Example:
  pvesandbox down abc123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Down(cmd.Context(), args[0])
		},
	}

	return cmd
}
