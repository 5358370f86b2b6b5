package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapestrydocs/asset-engine/internal/resolve"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var locale string
	var version string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resolve <src>",
		Short: "Resolve a logical asset reference to its published path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.manifest()
			if err != nil {
				return err
			}
			rctx := resolve.Context{Locale: locale, Version: version}
			res := ctx.resolver().ResolveOrDirect(m, args[0], rctx)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.PublicPath)
			switch {
			case res.FallbackType == resolve.FallbackDirect:
				fmt.Fprintf(out, "no manifest entry for %q in %s/%s; path above is an unhashed guess\n",
					args[0], locale, version)
			case res.FallbackUsed:
				fmt.Fprintf(out, "served via %s fallback from %s/%s\n",
					res.FallbackType, res.Entry.Locale, res.Entry.Version)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&locale, "locale", "en", "Requested locale")
	cmd.Flags().StringVar(&version, "version", "v1", "Requested documentation version")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the full resolution result as JSON")

	return cmd
}
