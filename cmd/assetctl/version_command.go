package main

import (
	"fmt"

	"github.com/spf13/cobra"

	v "github.com/tapestrydocs/asset-engine/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			vi := v.Get()
			fmt.Fprintf(cmd.OutOrStdout(),
				"assetctl %s (commit=%s, commit_date=%s, build_date=%s, go=%s, dirty=%v)\n",
				vi.Version, vi.Commit, vi.CommitDate, vi.BuildDate, vi.GoVersion,
				vi.VCSDirty != nil && *vi.VCSDirty,
			)
		},
	}
}
