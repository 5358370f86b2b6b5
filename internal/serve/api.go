package serve

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tapestrydocs/asset-engine/internal/log"
	"github.com/tapestrydocs/asset-engine/internal/manifest"
	"github.com/tapestrydocs/asset-engine/internal/metrics"
	"github.com/tapestrydocs/asset-engine/internal/resolve"
)

// APIOptions wires the resolver API to its collaborators.
type APIOptions struct {
	Cache    *manifest.Cache
	Resolver *resolve.Resolver
	Logger   log.Logger

	// Metrics is optional; nil disables resolve/reload counters.
	Metrics *metrics.ServerMetrics
}

// API exposes the resolution engine over JSON so the page renderer and
// build tooling can ask the same questions templates do.
type API struct {
	cache    *manifest.Cache
	resolver *resolve.Resolver
	logger   log.Logger
	metrics  *metrics.ServerMetrics
}

func NewAPI(opts APIOptions) *API {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		cache:    opts.Cache,
		resolver: opts.Resolver,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// RegisterRoutes attaches the resolver endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/resolve", api.HandleResolve)
	r.Get("/api/contexts", api.HandleContexts)
	r.Get("/api/audit", api.HandleAudit)
	r.Get("/api/manifest", api.HandleManifest)
	r.Post("/api/invalidate", api.HandleInvalidate)
}

// ResolveResponse echoes the query and carries the resolution result.
type ResolveResponse struct {
	Src     string         `json:"src"`
	Locale  string         `json:"locale"`
	Version string         `json:"version"`
	Result  resolve.Result `json:"result"`
}

// ContextsResponse lists every locale/version combination the manifest
// declares.
type ContextsResponse struct {
	ManifestVersion string            `json:"manifestVersion"`
	Contexts        []resolve.Context `json:"contexts"`
	Count           int               `json:"count"`
}

// AuditEntry is one cell of the existence matrix.
type AuditEntry struct {
	Locale  string `json:"locale"`
	Version string `json:"version"`
	Exists  bool   `json:"exists"`
}

// AuditResponse is the per-context existence matrix for one asset.
type AuditResponse struct {
	Src      string       `json:"src"`
	Contexts []AuditEntry `json:"contexts"`
	Present  int          `json:"present"`
	Total    int          `json:"total"`
}

// InvalidateResponse reports the manifest snapshot now live after an
// explicit reload.
type InvalidateResponse struct {
	Status string `json:"status"`
	Assets int    `json:"assets"`
	SHA256 string `json:"sha256"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleResolve resolves one asset reference in a locale/version context,
// degrading to a direct-path guess when every fallback tier misses.
func (api *API) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q := r.URL.Query()
	src := q.Get("src")
	locale := q.Get("locale")
	version := q.Get("version")
	switch {
	case src == "":
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "missing src parameter"})
		return
	case locale == "":
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "missing locale parameter"})
		return
	case version == "":
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "missing version parameter"})
		return
	}

	m, err := api.cache.Get(ctx)
	if err != nil {
		api.logger.Error(ctx, err, "resolve request with no loadable manifest")
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "manifest unavailable"})
		return
	}

	rctx := resolve.Context{Locale: locale, Version: version}
	res := api.resolver.ResolveOrDirect(m, src, rctx)

	if api.metrics != nil {
		tier := string(res.FallbackType)
		if tier == "" {
			tier = "none"
		}
		api.metrics.IncResolve(tier)
	}

	api.logger.Debug(ctx, "resolved asset reference",
		"src", src,
		"locale", locale,
		"version", version,
		"public_path", res.PublicPath,
		"fallback", string(res.FallbackType),
	)

	api.writeJSON(ctx, w, http.StatusOK, ResolveResponse{
		Src:     src,
		Locale:  locale,
		Version: version,
		Result:  res,
	})
}

// HandleContexts lists the locale/version combinations present in the
// manifest, locale-major, both axes sorted.
func (api *API) HandleContexts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m, err := api.cache.Get(ctx)
	if err != nil {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "manifest unavailable"})
		return
	}

	contexts := resolve.ContextsOf(m)
	api.writeJSON(ctx, w, http.StatusOK, ContextsResponse{
		ManifestVersion: m.Version,
		Contexts:        contexts,
		Count:           len(contexts),
	})
}

// HandleAudit reports, for one asset, which contexts have an exact match.
func (api *API) HandleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	src := r.URL.Query().Get("src")
	if src == "" {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "missing src parameter"})
		return
	}

	m, err := api.cache.Get(ctx)
	if err != nil {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "manifest unavailable"})
		return
	}

	resp := AuditResponse{Src: src}
	for _, c := range resolve.ContextsOf(m) {
		exists := api.resolver.Exists(m, src, c)
		resp.Contexts = append(resp.Contexts, AuditEntry{
			Locale:  c.Locale,
			Version: c.Version,
			Exists:  exists,
		})
		if exists {
			resp.Present++
		}
	}
	resp.Total = len(resp.Contexts)

	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleManifest serves the cached manifest document.
func (api *API) HandleManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m, err := api.cache.Get(ctx)
	if err != nil {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "manifest unavailable"})
		return
	}

	api.writeJSON(ctx, w, http.StatusOK, m)
}

// HandleInvalidate reloads the manifest from disk and swaps it in. A
// broken file on disk leaves the current snapshot serving and reports the
// failure.
func (api *API) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m, err := api.cache.Reload(ctx)
	if err != nil {
		api.logger.Error(ctx, err, "manifest invalidation failed, keeping current snapshot")
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "manifest reload failed"})
		return
	}

	info, _ := api.cache.Info()
	if api.metrics != nil {
		api.metrics.IncManifestReload()
		api.metrics.SetManifest(info.SHA256, info.Assets, info.LoadedAt)
	}

	api.logger.Info(ctx, "manifest invalidated and reloaded",
		"assets", len(m.Assets),
		"sha256", info.SHA256,
	)

	api.writeJSON(ctx, w, http.StatusOK, InvalidateResponse{
		Status: "reloaded",
		Assets: len(m.Assets),
		SHA256: info.SHA256,
	})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
