package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tapestrydocs/asset-engine/internal/cryptoutil"
	"github.com/tapestrydocs/asset-engine/internal/process"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash every published file against its manifest entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ctx.manifest()
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(m.Assets))
			for k := range m.Assets {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			out := cmd.OutOrStdout()
			checked, missing, drifted := 0, 0, 0
			for _, k := range keys {
				entry := m.Assets[k]
				local := filepath.Join(*ctx.baseDir, filepath.FromSlash(strings.TrimPrefix(entry.PublicPath, "/")))

				hash, size, err := process.HashFile(local)
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						missing++
						fmt.Fprintf(out, "MISSING %s (%s)\n", entry.PublicPath, k)
						continue
					}
					return err
				}
				checked++
				if !cryptoutil.HashEqual(hash, entry.ContentHash) {
					drifted++
					fmt.Fprintf(out, "DRIFT   %s: manifest %s.. disk %s.. (%d bytes)\n",
						entry.PublicPath, entry.ContentHash[:12], hash[:12], size)
				}
			}

			fmt.Fprintf(out, "verified %d file(s): %d missing, %d drifted\n", checked, missing, drifted)
			if missing > 0 || drifted > 0 {
				return fmt.Errorf("published tree does not match manifest %s", ctx.manifestPath())
			}
			return nil
		},
	}

	return cmd
}
