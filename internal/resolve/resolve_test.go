package resolve

import (
	"sort"
	"testing"

	"github.com/tapestrydocs/asset-engine/internal/manifest"
)

// newManifest builds a manifest from key→(locale, version, publicPath)
// triples, deriving the locale/version sets the way a real build does.
func newManifest(entries map[string][3]string) *manifest.Manifest {
	m := &manifest.Manifest{
		Version: "1.0.0",
		Assets:  map[string]manifest.Entry{},
	}
	localeSet := map[string]struct{}{}
	versionSet := map[string]struct{}{}
	for key, lv := range entries {
		m.Assets[key] = manifest.Entry{
			Locale:       lv[0],
			Version:      lv[1],
			PublicPath:   lv[2],
			OriginalPath: key,
		}
		localeSet[lv[0]] = struct{}{}
		versionSet[lv[1]] = struct{}{}
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

func newResolver() *Resolver {
	return New(Options{DefaultLocale: "en", PublicRoot: "public/assets"})
}

func TestResolve_ExactMatch(t *testing.T) {
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/logo.png": {"en", "v1", "/public/assets/en/v1/images/logo.abcd1234.png"},
	})
	r := newResolver()

	res, ok := r.Resolve(m, "images/logo.png", Context{Locale: "en", Version: "v1"})
	if !ok {
		t.Fatal("expected a match")
	}
	if res.FallbackUsed {
		t.Fatal("exact match must not report fallback")
	}
	if res.FallbackType != FallbackNone {
		t.Fatalf("fallback type = %q, want none", res.FallbackType)
	}
	if res.PublicPath != "/public/assets/en/v1/images/logo.abcd1234.png" {
		t.Fatalf("public path = %q", res.PublicPath)
	}
	if res.Entry == nil || res.Entry.OriginalPath != "en/v1/assets/images/logo.png" {
		t.Fatalf("entry = %+v", res.Entry)
	}
}

func TestResolve_KeyShapes(t *testing.T) {
	tests := []struct {
		name string
		key  string
		src  string
	}{
		{"assets prefix", "en/v1/assets/images/logo.png", "images/logo.png"},
		{"images variant", "en/v1/assets/images/logo.png", "logo.png"},
		{"files variant", "en/v1/assets/files/guide.pdf", "guide.pdf"},
		{"raw key", "shared/logo.png", "shared/logo.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManifest(map[string][3]string{
				tt.key: {"en", "v1", "/pub/" + tt.key},
			})
			res, ok := newResolver().Resolve(m, tt.src, Context{Locale: "en", Version: "v1"})
			if !ok {
				t.Fatalf("src %q did not match key %q", tt.src, tt.key)
			}
			if res.FallbackUsed {
				t.Fatal("in-context match must not report fallback")
			}
		})
	}
}

func TestResolve_NormalizesSrc(t *testing.T) {
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/logo.png": {"en", "v1", "/p"},
	})
	r := newResolver()
	for _, src := range []string{"images/logo.png", "./images/logo.png", "/images/logo.png"} {
		if _, ok := r.Resolve(m, src, Context{Locale: "en", Version: "v1"}); !ok {
			t.Fatalf("src %q did not resolve", src)
		}
	}
}

func TestResolve_RejectsForeignContextEntry(t *testing.T) {
	// The key looks like en/v1 but the entry claims es/v1. The exact tier
	// must not accept it for en/v1.
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/logo.png": {"es", "v1", "/p"},
	})
	res, ok := newResolver().Resolve(m, "images/logo.png", Context{Locale: "en", Version: "v1"})
	if ok && !res.FallbackUsed {
		t.Fatal("entry with foreign locale must not satisfy the exact tier")
	}
}

func TestResolve_VersionFallback(t *testing.T) {
	m := newManifest(map[string][3]string{
		"es/v2/assets/images/logo.png": {"es", "v2", "/public/assets/es/v2/images/logo.aaaa1111.png"},
	})
	res, ok := newResolver().Resolve(m, "images/logo.png", Context{Locale: "es", Version: "v1"})
	if !ok {
		t.Fatal("expected version fallback to match")
	}
	if !res.FallbackUsed || res.FallbackType != FallbackVersion {
		t.Fatalf("fallback = %v/%q, want used/version", res.FallbackUsed, res.FallbackType)
	}
	if res.Entry.Version != "v2" {
		t.Fatalf("entry version = %q", res.Entry.Version)
	}
}

func TestResolve_VersionFallbackSortedOrder(t *testing.T) {
	// Both v2 and v3 hold the asset; sorted iteration means v2 wins.
	m := newManifest(map[string][3]string{
		"es/v3/assets/images/logo.png": {"es", "v3", "/three"},
		"es/v2/assets/images/logo.png": {"es", "v2", "/two"},
	})
	res, ok := newResolver().Resolve(m, "images/logo.png", Context{Locale: "es", Version: "v1"})
	if !ok {
		t.Fatal("expected a match")
	}
	if res.PublicPath != "/two" {
		t.Fatalf("public path = %q, want the lowest sorted version", res.PublicPath)
	}
}

func TestResolve_LocaleFallback(t *testing.T) {
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/logo.png": {"en", "v1", "/public/assets/en/v1/images/logo.abcd1234.png"},
	})
	res, ok := newResolver().Resolve(m, "images/logo.png", Context{Locale: "es", Version: "v1"})
	if !ok {
		t.Fatal("expected locale fallback to match")
	}
	if !res.FallbackUsed || res.FallbackType != FallbackLocale {
		t.Fatalf("fallback = %v/%q, want used/locale", res.FallbackUsed, res.FallbackType)
	}
	if res.Entry.Locale != "en" {
		t.Fatalf("entry locale = %q", res.Entry.Locale)
	}
}

func TestResolve_VersionFallbackBeatsLocaleFallback(t *testing.T) {
	// The asset exists in the requested locale at another version AND in
	// the default locale at the requested version. Version fallback is the
	// earlier tier.
	m := newManifest(map[string][3]string{
		"es/v2/assets/images/logo.png": {"es", "v2", "/es-v2"},
		"en/v1/assets/images/logo.png": {"en", "v1", "/en-v1"},
	})
	res, ok := newResolver().Resolve(m, "images/logo.png", Context{Locale: "es", Version: "v1"})
	if !ok {
		t.Fatal("expected a match")
	}
	if res.FallbackType != FallbackVersion || res.PublicPath != "/es-v2" {
		t.Fatalf("got %q via %q, want /es-v2 via version", res.PublicPath, res.FallbackType)
	}
}

func TestResolve_DefaultFallbackAcrossVersions(t *testing.T) {
	// Nothing in fr at any version, nothing in en at v9; en/v1 at the
	// final tier is the only holder.
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/logo.png":  {"en", "v1", "/en-v1"},
		"fr/v2/assets/images/other.png": {"fr", "v2", "/unrelated"},
	})
	res, ok := newResolver().Resolve(m, "images/logo.png", Context{Locale: "fr", Version: "v9"})
	if !ok {
		t.Fatal("expected default fallback to match")
	}
	if res.FallbackType != FallbackLocale {
		t.Fatalf("fallback type = %q, want locale", res.FallbackType)
	}
	if res.PublicPath != "/en-v1" {
		t.Fatalf("public path = %q", res.PublicPath)
	}
}

func TestResolve_DefaultLocaleContextSkipsLocaleTier(t *testing.T) {
	// When the requested locale is already the default, only exact and
	// version tiers apply; a miss stays a miss.
	m := newManifest(map[string][3]string{
		"es/v1/assets/images/foreign.png": {"es", "v1", "/es-only"},
	})
	if _, ok := newResolver().Resolve(m, "images/foreign.png", Context{Locale: "en", Version: "v1"}); ok {
		t.Fatal("default-locale context must not borrow from non-default locales")
	}
}

func TestResolve_Miss(t *testing.T) {
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/logo.png": {"en", "v1", "/p"},
	})
	if _, ok := newResolver().Resolve(m, "images/absent.png", Context{Locale: "en", Version: "v1"}); ok {
		t.Fatal("expected a miss")
	}
}

func TestResolve_NilManifestAndEmptySrc(t *testing.T) {
	r := newResolver()
	if _, ok := r.Resolve(nil, "images/logo.png", Context{Locale: "en", Version: "v1"}); ok {
		t.Fatal("nil manifest must miss")
	}
	m := newManifest(map[string][3]string{"en/v1/assets/images/logo.png": {"en", "v1", "/p"}})
	if _, ok := r.Resolve(m, "", Context{Locale: "en", Version: "v1"}); ok {
		t.Fatal("empty src must miss")
	}
}

func TestResolveOrDirect_DegradesToGuess(t *testing.T) {
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/logo.png": {"en", "v1", "/p"},
	})
	res := newResolver().ResolveOrDirect(m, "images/missing.png", Context{Locale: "es", Version: "v2"})
	if !res.FallbackUsed || res.FallbackType != FallbackDirect {
		t.Fatalf("fallback = %v/%q, want used/direct", res.FallbackUsed, res.FallbackType)
	}
	if res.PublicPath != "/public/assets/es/v2/images/missing.png" {
		t.Fatalf("direct path = %q", res.PublicPath)
	}
	if res.Entry != nil {
		t.Fatal("direct guess carries no entry")
	}
}

func TestDirectPath_Subdirs(t *testing.T) {
	r := newResolver()
	ctx := Context{Locale: "en", Version: "v1"}
	tests := []struct {
		src  string
		want string
	}{
		{"images/logo.png", "/public/assets/en/v1/images/logo.png"},
		{"logo.webp", "/public/assets/en/v1/images/logo.webp"},
		{"files/guide.pdf", "/public/assets/en/v1/files/guide.pdf"},
		{"notes.txt", "/public/assets/en/v1/files/notes.txt"},
		{"deep/nested/report.csv", "/public/assets/en/v1/files/report.csv"},
	}
	for _, tt := range tests {
		if got := r.DirectPath(tt.src, ctx); got != tt.want {
			t.Fatalf("DirectPath(%q) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestExists_ExactOnly(t *testing.T) {
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/logo.png": {"en", "v1", "/p"},
	})
	r := newResolver()
	if !r.Exists(m, "images/logo.png", Context{Locale: "en", Version: "v1"}) {
		t.Fatal("expected existence in en/v1")
	}
	if r.Exists(m, "images/logo.png", Context{Locale: "es", Version: "v1"}) {
		t.Fatal("Exists must not apply fallback")
	}
}

func TestContextsOf_CrossProduct(t *testing.T) {
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/a.png": {"en", "v1", "/1"},
		"es/v2/assets/images/b.png": {"es", "v2", "/2"},
	})
	got := ContextsOf(m)
	want := []Context{
		{"en", "v1"}, {"en", "v2"},
		{"es", "v1"}, {"es", "v2"},
	}
	if len(got) != len(want) {
		t.Fatalf("contexts = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("contexts[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if ContextsOf(nil) != nil {
		t.Fatal("nil manifest yields nil contexts")
	}
}

func TestMatrix_CompletenessAudit(t *testing.T) {
	m := newManifest(map[string][3]string{
		"en/v1/assets/images/logo.png":  {"en", "v1", "/1"},
		"en/v2/assets/images/logo.png":  {"en", "v2", "/2"},
		"es/v1/assets/images/other.png": {"es", "v1", "/3"},
	})
	got := newResolver().Matrix(m, "images/logo.png")
	if len(got) != 4 {
		t.Fatalf("matrix size = %d, want 4", len(got))
	}
	if !got[Context{"en", "v1"}] || !got[Context{"en", "v2"}] {
		t.Fatal("logo must exist in both en contexts")
	}
	if got[Context{"es", "v1"}] || got[Context{"es", "v2"}] {
		t.Fatal("logo must be absent in es contexts")
	}
}
