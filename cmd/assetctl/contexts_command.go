package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tapestrydocs/asset-engine/internal/resolve"
)

func newContextsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "contexts",
		Short: "List every locale/version combination in the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.manifest()
			if err != nil {
				return err
			}
			contexts := resolve.ContextsOf(m)

			// count entries per context so sparse combinations stand out
			counts := make(map[resolve.Context]int, len(contexts))
			for _, e := range m.Assets {
				counts[resolve.Context{Locale: e.Locale, Version: e.Version}]++
			}

			if asJSON {
				type row struct {
					Locale  string `json:"locale"`
					Version string `json:"version"`
					Assets  int    `json:"assets"`
				}
				rows := make([]row, 0, len(contexts))
				for _, c := range contexts {
					rows = append(rows, row{Locale: c.Locale, Version: c.Version, Assets: counts[c]})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			rows := make([][]string, 0, len(contexts))
			for _, c := range contexts {
				rows = append(rows, []string{c.Locale, c.Version, strconv.Itoa(counts[c])})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"LOCALE", "VERSION", "ASSETS"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit contexts as JSON")

	return cmd
}
