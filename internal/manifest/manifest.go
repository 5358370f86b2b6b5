// Package manifest builds, persists, and loads the asset manifest: the
// single JSON document mapping every discovered asset's original relative
// path to its published, content-addressed location.
//
// A manifest is regenerated wholesale each build and replaced atomically.
// Nothing patches one in place.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// Filename is the well-known manifest filename under the public root.
const Filename = "assets-manifest.json"

// Metadata carries per-asset bookkeeping that is not needed for
// resolution but is useful for audits.
type Metadata struct {
	LastModified    time.Time `json:"lastModified"`
	ReferencedBy    []string  `json:"referencedBy"`
	Optimized       bool      `json:"optimized"`
	SecurityScanned bool      `json:"securityScanned"`
}

type Entry struct {
	PublicPath     string             `json:"publicPath"`
	HashedFilename string             `json:"hashedFilename"`
	ContentHash    string             `json:"contentHash"`
	OriginalPath   string             `json:"originalPath"`
	FileSize       int64              `json:"fileSize"`
	MimeType       string             `json:"mimeType"`
	Locale         string             `json:"locale"`
	Version        string             `json:"version"`
	Dimensions     *asset.Dimensions  `json:"dimensions,omitempty"`
	Derivatives    []asset.Derivative `json:"derivatives,omitempty"`
	Metadata       Metadata           `json:"metadata"`
}

type Manifest struct {
	// Version identifies the manifest schema/build version, not any
	// content version.
	Version     string           `json:"version"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Assets      map[string]Entry `json:"assets"`
	Locales     []string         `json:"locales"`
	Versions    []string         `json:"versions"`
}

// Build aggregates processed assets into a manifest. Assets are keyed by
// their original relative path. Locales and versions are the sorted,
// deduplicated sets observed in the input. Two calls over the same input
// differ only in GeneratedAt. Empty input yields an empty manifest.
func Build(processed []asset.Processed, version string) *Manifest {
	m := &Manifest{
		Version:     version,
		GeneratedAt: time.Now().UTC(),
		Assets:      make(map[string]Entry, len(processed)),
		Locales:     []string{},
		Versions:    []string{},
	}

	localeSet := map[string]struct{}{}
	versionSet := map[string]struct{}{}
	for _, p := range processed {
		refBy := p.ReferencedBy
		if refBy == nil {
			refBy = []string{}
		}
		m.Assets[p.RelativePath] = Entry{
			PublicPath:     p.PublicPath,
			HashedFilename: p.HashedFilename,
			ContentHash:    p.ContentHash,
			OriginalPath:   p.RelativePath,
			FileSize:       p.FileSize,
			MimeType:       p.MimeType,
			Locale:         p.Locale,
			Version:        p.Version,
			Dimensions:     p.Dimensions,
			Derivatives:    p.Derivatives,
			Metadata: Metadata{
				LastModified:    p.LastModified,
				ReferencedBy:    refBy,
				Optimized:       p.Optimized,
				SecurityScanned: p.SecurityScanned,
			},
		}
		localeSet[p.Locale] = struct{}{}
		versionSet[p.Version] = struct{}{}
	}

	for l := range localeSet {
		m.Locales = append(m.Locales, l)
	}
	for v := range versionSet {
		m.Versions = append(m.Versions, v)
	}
	sort.Strings(m.Locales)
	sort.Strings(m.Versions)
	return m
}

// Write persists the manifest as pretty-printed JSON, creating parent
// directories. The write goes through a temp file in the same directory
// plus a rename so readers never observe a partial manifest.
func Write(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return xerrors.Wrap(err, "marshal manifest")
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrapf(err, "create manifest dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".assets-manifest-*")
	if err != nil {
		return xerrors.Wrap(err, "create manifest temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return xerrors.Wrapf(err, "write manifest temp file %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrapf(err, "close manifest temp file %s", tmpName)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrapf(err, "chmod manifest temp file %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrapf(err, "rename manifest into place at %s", path)
	}
	return nil
}

// Load reads and parses a manifest from disk.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read manifest %s", path)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, xerrors.Wrapf(err, "parse manifest %s", path)
	}
	return &m, nil
}
