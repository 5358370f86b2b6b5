package serve

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/tapestrydocs/asset-engine/internal/manifest"
)

var ErrInvalidOptions = errors.New("invalid static options")

// hashedName matches content-addressed filenames: an 8-hex-character hash
// segment before the extension, as produced for both primary assets
// (logo.3b7f2a9c.png) and derivatives (logo@2x.91d04c1e.png).
var hashedName = regexp.MustCompile(`\.[0-9a-f]{8}\.[A-Za-z0-9]+$`)

// StaticOptions configures the published-tree file handler.
type StaticOptions struct {
	// BaseDir is the local directory the build published into. URL paths
	// map directly under it: /public/assets/... serves
	// {BaseDir}/public/assets/...
	BaseDir string

	// Cache policies by filename shape.
	HashedCacheControl   string // default: "public, max-age=31536000, immutable"
	ManifestCacheControl string // default: "no-cache"
	OtherCacheControl    string // default: "public, max-age=300"
}

func (o *StaticOptions) setDefaults() {
	if o.HashedCacheControl == "" {
		o.HashedCacheControl = "public, max-age=31536000, immutable"
	}
	if o.ManifestCacheControl == "" {
		o.ManifestCacheControl = "no-cache"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=300"
	}
}

func (o *StaticOptions) validate() error {
	if o.BaseDir == "" {
		return fmt.Errorf("%w: BaseDir is empty", ErrInvalidOptions)
	}
	info, err := os.Stat(o.BaseDir)
	if err != nil {
		return fmt.Errorf("%w: BaseDir %q: %v", ErrInvalidOptions, o.BaseDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: BaseDir %q is not a directory", ErrInvalidOptions, o.BaseDir)
	}
	return nil
}

// Static serves the published asset tree off the local filesystem. No
// directory listings, no index documents, no redirects: a request either
// names a published file exactly or is a 404. Content-addressed names
// get immutable caching.
type Static struct {
	opts StaticOptions
	fsys fs.FS
}

func NewStatic(opts StaticOptions) (*Static, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Static{
		opts: opts,
		fsys: os.DirFS(opts.BaseDir),
	}, nil
}

func (s *Static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// hardening: only allow GET/HEAD
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		// counter metrics already cover these; logging request details for
		// junk methods is sanitizing work with no payoff
		return
	}

	file, ok := s.resolveFile(r.URL.Path)
	if !ok {
		s.serveNotFound(w)
		return
	}

	if cc := s.cacheControlFor(file); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}

	http.ServeFileFS(w, r, s.fsys, file)
}

// resolveFile maps a URL path to a file under BaseDir. Published names
// never contain dot segments or hidden components, so anything shaped
// like that is rejected before touching the filesystem. Build-side
// artifacts (the lock file, anything dot-prefixed) stay unreachable.
func (s *Static) resolveFile(urlPath string) (string, bool) {
	p := urlPath
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	if strings.Contains(p, "\x00") || strings.Contains(p, "\\") || strings.Contains(p, "..") {
		return "", false
	}
	if hasDotSegments(p) {
		return "", false
	}

	clean := path.Clean(p)
	if clean == "/" || strings.HasSuffix(p, "/") {
		return "", false
	}

	name := strings.TrimPrefix(clean, "/")
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}

	if !existsFile(s.fsys, name) {
		return "", false
	}
	return name, true
}

func (s *Static) serveNotFound(w http.ResponseWriter) {
	// avoid caching 404 responses
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found"))
}

func (s *Static) cacheControlFor(name string) string {
	base := path.Base(name)
	if base == manifest.Filename || base == manifest.Filename+manifest.SigSuffix {
		return s.opts.ManifestCacheControl
	}
	if hashedName.MatchString(base) {
		return s.opts.HashedCacheControl
	}
	return s.opts.OtherCacheControl
}

// hasDotSegments reports whether any segment of the URL path is "." or
// "..". path.Clean would collapse these, but a request shaped like that
// never names a published asset, so it is rejected outright rather than
// normalized into something servable.
func hasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
