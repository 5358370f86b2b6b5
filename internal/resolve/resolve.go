// Package resolve maps logical asset references to published paths at
// render time, with ordered locale/version fallback over an immutable
// manifest snapshot.
//
// Resolution never mutates the manifest and holds no state of its own, so
// one Resolver is safe for concurrent use across requests.
package resolve

import (
	"path"
	"sort"
	"strings"

	"github.com/tapestrydocs/asset-engine/internal/asset"
	"github.com/tapestrydocs/asset-engine/internal/manifest"
)

// Context is the render-time lookup key.
type Context struct {
	Locale  string `json:"locale"`
	Version string `json:"version"`
}

// Fallback names which resolution tier produced a result.
type Fallback string

const (
	// FallbackNone: exact match in the requested context.
	FallbackNone Fallback = ""
	// FallbackVersion: same locale, a different version.
	FallbackVersion Fallback = "version"
	// FallbackLocale: the default locale stood in for the requested one.
	FallbackLocale Fallback = "locale"
	// FallbackDirect: nothing matched; the path is an unhashed guess.
	FallbackDirect Fallback = "direct"
)

// Result is a successful (or degraded) resolution.
type Result struct {
	PublicPath   string          `json:"publicPath"`
	Entry        *manifest.Entry `json:"entry,omitempty"`
	FallbackUsed bool            `json:"fallbackUsed"`
	FallbackType Fallback        `json:"fallbackType,omitempty"`
}

type Options struct {
	// DefaultLocale is the locale fallback target. Defaults to "en".
	DefaultLocale string
	// PublicRoot shapes DirectPath guesses, e.g. "public/assets".
	PublicRoot string
}

type Resolver struct {
	defaultLocale string
	publicRoot    string
}

func New(opts Options) *Resolver {
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "en"
	}
	if opts.PublicRoot == "" {
		opts.PublicRoot = "public/assets"
	}
	return &Resolver{
		defaultLocale: opts.DefaultLocale,
		publicRoot:    strings.Trim(opts.PublicRoot, "/"),
	}
}

// candidate is one (locale, version) pair to probe, tagged with the
// fallback tier that proposed it.
type candidate struct {
	locale  string
	version string
	tag     Fallback
}

// candidates builds the ordered, deduplicated probe list for a lookup:
// the exact context, then version fallback (same locale, other versions,
// sorted), then the default locale at the requested version, then the
// default locale across all versions. First occurrence of a pair wins, so
// an earlier tier always shadows a later one.
func (r *Resolver) candidates(m *manifest.Manifest, ctx Context) []candidate {
	versions := append([]string(nil), m.Versions...)
	sort.Strings(versions)

	seen := make(map[[2]string]bool, len(versions)*2+2)
	out := make([]candidate, 0, len(versions)*2+2)
	add := func(locale, version string, tag Fallback) {
		if locale == "" || version == "" {
			return
		}
		k := [2]string{locale, version}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, candidate{locale: locale, version: version, tag: tag})
	}

	add(ctx.Locale, ctx.Version, FallbackNone)
	for _, v := range versions {
		if v != ctx.Version {
			add(ctx.Locale, v, FallbackVersion)
		}
	}
	if ctx.Locale != r.defaultLocale {
		add(r.defaultLocale, ctx.Version, FallbackLocale)
	}
	for _, v := range versions {
		add(r.defaultLocale, v, FallbackLocale)
	}
	return out
}

// lookup probes the manifest key shapes for src in one context:
// "{loc}/{ver}/assets/{src}", the images/ and files/ sub-variants, then
// the raw src. More than one shape existing at once has no documented
// precedence upstream; first shape listed wins here. A key only counts
// when its entry's own locale and version match the probed context.
func lookup(m *manifest.Manifest, src, locale, version string) (*manifest.Entry, bool) {
	prefix := locale + "/" + version + "/assets/"
	keys := [...]string{
		prefix + src,
		prefix + "images/" + src,
		prefix + "files/" + src,
		src,
	}
	for _, k := range keys {
		e, ok := m.Assets[k]
		if !ok {
			continue
		}
		if e.Locale != locale || e.Version != version {
			continue
		}
		return &e, true
	}
	return nil, false
}

// normalizeSrc strips the leading "./" or "/" a template author may have
// written.
func normalizeSrc(src string) string {
	src = strings.TrimPrefix(src, "./")
	return strings.TrimPrefix(src, "/")
}

// Resolve finds the published entry for src in ctx, walking the fallback
// tiers in order. A miss returns ok=false, never an error: the caller
// decides how to degrade.
func (r *Resolver) Resolve(m *manifest.Manifest, src string, ctx Context) (Result, bool) {
	src = normalizeSrc(src)
	if m == nil || src == "" {
		return Result{}, false
	}
	for _, c := range r.candidates(m, ctx) {
		e, ok := lookup(m, src, c.locale, c.version)
		if !ok {
			continue
		}
		return Result{
			PublicPath:   e.PublicPath,
			Entry:        e,
			FallbackUsed: c.tag != FallbackNone,
			FallbackType: c.tag,
		}, true
	}
	return Result{}, false
}

// DirectPath guesses an unhashed public path for src in ctx. The guess
// follows the published layout but may not exist at serve time.
func (r *Resolver) DirectPath(src string, ctx Context) string {
	src = normalizeSrc(src)
	subdir := "files"
	if asset.TypeForPath(src) == asset.TypeImage {
		subdir = "images"
	}
	return "/" + path.Join(r.publicRoot, ctx.Locale, ctx.Version, subdir, path.Base(src))
}

// ResolveOrDirect resolves src, degrading to a DirectPath guess tagged
// FallbackDirect when every tier misses.
func (r *Resolver) ResolveOrDirect(m *manifest.Manifest, src string, ctx Context) Result {
	if res, ok := r.Resolve(m, src, ctx); ok {
		return res
	}
	return Result{
		PublicPath:   r.DirectPath(src, ctx),
		FallbackUsed: true,
		FallbackType: FallbackDirect,
	}
}

// Exists reports whether src has an exact (no-fallback) entry in ctx.
func (r *Resolver) Exists(m *manifest.Manifest, src string, ctx Context) bool {
	src = normalizeSrc(src)
	if m == nil || src == "" {
		return false
	}
	_, ok := lookup(m, src, ctx.Locale, ctx.Version)
	return ok
}

// ContextsOf enumerates every locale/version combination the manifest
// declares, locale-major, both axes sorted.
func ContextsOf(m *manifest.Manifest) []Context {
	if m == nil {
		return nil
	}
	locales := append([]string(nil), m.Locales...)
	versions := append([]string(nil), m.Versions...)
	sort.Strings(locales)
	sort.Strings(versions)

	out := make([]Context, 0, len(locales)*len(versions))
	for _, l := range locales {
		for _, v := range versions {
			out = append(out, Context{Locale: l, Version: v})
		}
	}
	return out
}

// Matrix computes src's exact-match existence across every known
// context. Useful for auditing translation/version completeness of one
// asset at build time.
func (r *Resolver) Matrix(m *manifest.Manifest, src string) map[Context]bool {
	contexts := ContextsOf(m)
	out := make(map[Context]bool, len(contexts))
	for _, c := range contexts {
		out[c] = r.Exists(m, src, c)
	}
	return out
}
