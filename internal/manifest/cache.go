package manifest

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tapestrydocs/asset-engine/internal/cryptoutil"
	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// SigSuffix is appended to the manifest path to locate its detached
// signature, when one was published.
const SigSuffix = ".sig"

// Verifier checks a detached signature over raw manifest bytes.
// *cryptoutil.KMSVerifier satisfies it.
type Verifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

// Cache is the render path's read side: it loads the manifest once,
// hands out the same immutable snapshot to every caller, and reloads only
// after an explicit Invalidate or Reload. Loads never patch a live
// snapshot; a reload swaps in a whole new one.
type Cache struct {
	path     string
	verifier Verifier
	logr     log.Logger

	mu  sync.Mutex
	cur atomic.Pointer[snapshot]
}

// snapshot pairs the parsed manifest with load-time bookkeeping so info
// consumers (headers, metrics) see values consistent with the snapshot
// they came from.
type snapshot struct {
	m        *Manifest
	sha256   string
	loadedAt time.Time
}

// Info describes the currently loaded snapshot.
type Info struct {
	Version  string
	SHA256   string
	Assets   int
	LoadedAt time.Time
}

type CacheOptions struct {
	// Path is the manifest location on disk.
	Path string
	// Verifier, when set, checks the {Path}.sig sidecar before a loaded
	// manifest is trusted. A missing sidecar skips verification.
	Verifier Verifier
	Logger   log.Logger
}

func NewCache(opts CacheOptions) *Cache {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Cache{
		path:     opts.Path,
		verifier: opts.Verifier,
		logr:     opts.Logger,
	}
}

// Get returns the cached manifest, loading it on first use. Concurrent
// first callers trigger a single load. The returned manifest is shared
// and must be treated as read-only.
func (c *Cache) Get(ctx context.Context) (*Manifest, error) {
	if s := c.cur.Load(); s != nil {
		return s.m, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.cur.Load(); s != nil {
		return s.m, nil
	}

	s, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.cur.Store(s)
	c.logr.Info(ctx, "manifest loaded",
		"path", c.path,
		"assets", len(s.m.Assets),
		"locales", len(s.m.Locales),
		"versions", len(s.m.Versions),
	)
	return s.m, nil
}

// Current peeks at the cached snapshot without triggering a load.
func (c *Cache) Current() (*Manifest, bool) {
	s := c.cur.Load()
	if s == nil {
		return nil, false
	}
	return s.m, true
}

// Info reports version, content hash, and load time of the live snapshot.
func (c *Cache) Info() (Info, bool) {
	s := c.cur.Load()
	if s == nil {
		return Info{}, false
	}
	return Info{
		Version:  s.m.Version,
		SHA256:   s.sha256,
		Assets:   len(s.m.Assets),
		LoadedAt: s.loadedAt,
	}, true
}

// Path returns the manifest location this cache reads from.
func (c *Cache) Path() string { return c.path }

// Invalidate drops the cached snapshot. The next Get reloads from disk.
func (c *Cache) Invalidate() {
	c.cur.Store(nil)
}

// Reload loads from disk and swaps the snapshot only on success, so
// readers keep serving the old manifest when the new one is broken.
func (c *Cache) Reload(ctx context.Context) (*Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.cur.Store(s)
	c.logr.Info(ctx, "manifest reloaded",
		"path", c.path,
		"assets", len(s.m.Assets),
		"sha256", s.sha256,
	)
	return s.m, nil
}

func (c *Cache) load(ctx context.Context) (*snapshot, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read manifest %s", c.path)
	}

	if c.verifier != nil {
		sig, err := os.ReadFile(c.path + SigSuffix)
		switch {
		case os.IsNotExist(err):
			c.logr.Warn(ctx, "manifest signature sidecar missing, skipping verification", "path", c.path+SigSuffix)
		case err != nil:
			return nil, xerrors.Wrapf(err, "read manifest signature %s", c.path+SigSuffix)
		default:
			if err := c.verifier.VerifySignature(ctx, data, sig); err != nil {
				return nil, xerrors.Wrap(err, "manifest signature verification failed")
			}
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, xerrors.Wrapf(err, "parse manifest %s", c.path)
	}
	return &snapshot{
		m:        &m,
		sha256:   cryptoutil.SHA256Hex(data),
		loadedAt: time.Now().UTC(),
	}, nil
}
