// Package discover enumerates asset files under a per-locale,
// per-version content tree.
//
// The layout it understands is {contentRoot}/{locale}/{version}/assets/**.
// Locale and version directories are whatever exists on disk; nothing is
// configured ahead of time. A locale/version pair without an assets
// directory is skipped, never an error.
package discover

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

type Options struct {
	// ContentRoot is the directory holding locale directories.
	ContentRoot string
	Logger      log.Logger
}

type Scanner struct {
	contentRoot string
	logr        log.Logger
}

func New(opts Options) *Scanner {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Scanner{
		contentRoot: opts.ContentRoot,
		logr:        opts.Logger,
	}
}

// Discover walks every locale/version assets tree and returns references
// for all recognized asset files, sorted by source path so downstream
// output is reproducible regardless of readdir ordering. Files that
// classify as unknown are dropped.
func (s *Scanner) Discover(ctx context.Context) ([]asset.Reference, error) {
	locales, err := subdirs(s.contentRoot)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read content root %s", s.contentRoot)
	}

	var refs []asset.Reference
	for _, locale := range locales {
		versions, err := subdirs(filepath.Join(s.contentRoot, locale))
		if err != nil {
			return nil, xerrors.Wrapf(err, "read locale dir %s", locale)
		}
		for _, version := range versions {
			found, err := s.scanAssets(ctx, locale, version)
			if err != nil {
				return nil, err
			}
			refs = append(refs, found...)
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].SourcePath < refs[j].SourcePath })
	return refs, nil
}

// scanAssets walks one {locale}/{version}/assets tree. The walk uses an
// explicit queue of pending directories rather than recursion, and checks
// ctx between directories so large trees stay interruptible.
func (s *Scanner) scanAssets(ctx context.Context, locale, version string) ([]asset.Reference, error) {
	root := filepath.Join(s.contentRoot, locale, version, "assets")
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		s.logr.Debug(ctx, "no assets directory", "locale", locale, "version", version)
		return nil, nil
	}

	var refs []asset.Reference
	pending := []string{root}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(err, "discovery interrupted")
		}
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, xerrors.Wrapf(err, "read asset dir %s", dir)
		}
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			if e.IsDir() {
				pending = append(pending, full)
				continue
			}
			if !e.Type().IsRegular() {
				continue
			}
			t := asset.TypeForPath(e.Name())
			if t == asset.TypeUnknown {
				s.logr.Debug(ctx, "skipping unrecognized asset", "path", full)
				continue
			}
			rel, err := filepath.Rel(s.contentRoot, full)
			if err != nil {
				return nil, xerrors.Wrapf(err, "relativize %s", full)
			}
			refs = append(refs, asset.Reference{
				SourcePath:   full,
				RelativePath: filepath.ToSlash(rel),
				Locale:       locale,
				Version:      version,
				Type:         t,
			})
		}
	}
	return refs, nil
}

// subdirs lists the directory names directly under dir, sorted. Hidden
// directories are ignored.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
