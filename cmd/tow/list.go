package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/tow/internal/store"
)

// Output formats accepted by --output.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func newListCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed binaries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.installer(nil).List(cmd.Context())
			if err != nil {
				return err
			}
			return writeEntries(cmd.OutOrStdout(), entries, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, json or yaml")
	return cmd
}

// writeEntries renders entries in the requested format.
func writeEntries(w io.Writer, entries []store.BinaryEntry, format string) error {
	if entries == nil {
		entries = []store.BinaryEntry{}
	}

	switch format {
	case formatTable:
		if len(entries) == 0 {
			fmt.Fprintln(w, "No binaries installed.")
			fmt.Fprintln(w)
			fmt.Fprintln(w, "To install one:")
			fmt.Fprintln(w, "  tow install <url>")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tVERSION\tPATH\tSOURCE")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, e.Version, e.Path, e.Source)
		}
		return tw.Flush()

	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)

	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()

	default:
		return fmt.Errorf("unknown output format %q: want table, json or yaml", format)
	}
}
