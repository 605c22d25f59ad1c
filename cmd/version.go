// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"moodtap/pkg/build"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), build.GetBuildFlags())
			return nil
		},
	}
}
