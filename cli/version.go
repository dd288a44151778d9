package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	Version = "v0.1.0"
	License = "Apache-2.0"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of chatmcp",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatmcp %s (%s)\n", Version, License)
		},
	}
}
