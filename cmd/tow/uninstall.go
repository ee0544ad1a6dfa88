package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <name> <version>",
		Aliases: []string{"rm"},
		Short:   "Remove an installed binary and its registry entry",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.installer(nil).Uninstall(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s (%s)\n", entry.Name, entry.Version, entry.Path)
			return nil
		},
	}
}
