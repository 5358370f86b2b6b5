package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapestrydocs/asset-engine/internal/resolve"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "audit <src>",
		Short: "Show where an asset exists across every locale/version context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.manifest()
			if err != nil {
				return err
			}
			matrix := ctx.resolver().Matrix(m, args[0])

			if asJSON {
				// locale -> version -> present
				out := make(map[string]map[string]bool, len(m.Locales))
				for c, ok := range matrix {
					if out[c.Locale] == nil {
						out[c.Locale] = make(map[string]bool, len(m.Versions))
					}
					out[c.Locale][c.Version] = ok
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			headers := append([]string{"LOCALE"}, m.Versions...)
			rows := make([][]string, 0, len(m.Locales))
			missing := 0
			for _, locale := range m.Locales {
				row := []string{locale}
				for _, version := range m.Versions {
					if matrix[resolve.Context{Locale: locale, Version: version}] {
						row = append(row, "yes")
					} else {
						row = append(row, "-")
						missing++
					}
				}
				rows = append(rows, row)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(headers, rows))
			if missing > 0 {
				fmt.Fprintf(out, "%d context(s) missing %q; those renders will use fallback\n", missing, args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the existence matrix as JSON")

	return cmd
}
