package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tapestrydocs/asset-engine/internal/manifest"
	"github.com/tapestrydocs/asset-engine/internal/resolve"
)

// commandContext carries the shared flags and the lazily loaded manifest
// between subcommands.
type commandContext struct {
	baseDir       *string
	publicRoot    *string
	manifestFlag  *string
	defaultLocale *string

	loaded *manifest.Manifest
}

// manifestPath honors an explicit -manifest override, otherwise derives
// the well-known location under the published tree.
func (c *commandContext) manifestPath() string {
	if *c.manifestFlag != "" {
		return *c.manifestFlag
	}
	return filepath.Join(*c.baseDir, filepath.FromSlash(*c.publicRoot), manifest.Filename)
}

func (c *commandContext) manifest() (*manifest.Manifest, error) {
	if c.loaded != nil {
		return c.loaded, nil
	}
	m, err := manifest.Load(c.manifestPath())
	if err != nil {
		return nil, err
	}
	c.loaded = m
	return m, nil
}

func (c *commandContext) resolver() *resolve.Resolver {
	return resolve.New(resolve.Options{
		DefaultLocale: *c.defaultLocale,
		PublicRoot:    *c.publicRoot,
	})
}

func newRootCommand() *cobra.Command {
	var baseDir string
	var publicRoot string
	var manifestFlag string
	var defaultLocale string

	ctx := &commandContext{
		baseDir:       &baseDir,
		publicRoot:    &publicRoot,
		manifestFlag:  &manifestFlag,
		defaultLocale: &defaultLocale,
	}

	rootCmd := &cobra.Command{
		Use:           "assetctl",
		Short:         "Inspect and verify a published asset manifest",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "dist", "Directory holding the published asset tree")
	rootCmd.PersistentFlags().StringVar(&publicRoot, "public-root", "public/assets", "URL root segment the tree was published under")
	rootCmd.PersistentFlags().StringVar(&manifestFlag, "manifest", "", "Manifest path (overrides the derived location)")
	rootCmd.PersistentFlags().StringVar(&defaultLocale, "default-locale", "en", "Locale used for fallback resolution")

	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newContextsCommand(ctx))
	rootCmd.AddCommand(newAuditCommand(ctx))
	rootCmd.AddCommand(newVerifyCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
