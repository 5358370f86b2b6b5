// Package metrics defines the Prometheus surfaces for both halves of the
// engine: ServerMetrics for the long-running origin server and
// PipelineMetrics for the one-shot build job (scraped via pushgateway).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tapestrydocs/asset-engine/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	errorsTotal            *prometheus.CounterVec
	profilingActive        prometheus.Gauge

	manifestInfo     *prometheus.GaugeVec
	manifestAssets   prometheus.Gauge
	manifestLoadedTs prometheus.Gauge
	manifestReloads  prometheus.Counter
	resolveTotal     *prometheus.CounterVec

	watcherPolls       prometheus.Counter
	watcherSwaps       prometheus.Counter
	watcherErrors      *prometheus.CounterVec
	watcherLastSuccess prometheus.Gauge
	watcherStale       prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		manifestInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asset_manifest_info",
			Help: "Currently loaded asset manifest (label carries identity, value is always 1)",
		}, []string{"sha256"}),
		manifestAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_manifest_assets",
			Help: "Number of assets in the loaded manifest",
		}),
		manifestLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_manifest_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the current manifest was loaded",
		}),
		manifestReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_manifest_reloads_total",
			Help: "Total manifest cache invalidations followed by reload",
		}),
		resolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_resolve_total",
			Help: "Total asset resolutions by fallback tier (none, version, locale, direct, miss)",
		}, []string{"fallback"}),
		watcherPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_manifest_watcher_polls_total",
			Help: "Total manifest watcher poll cycles",
		}),
		watcherSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_manifest_watcher_swaps_total",
			Help: "Total manifest hot-swaps performed by the watcher",
		}),
		watcherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_manifest_watcher_errors_total",
			Help: "Total manifest watcher failures by type (read, load)",
		}, []string{"type"}),
		watcherLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_manifest_watcher_last_success_timestamp_seconds",
			Help: "Unix timestamp of the watcher's last successful manifest check",
		}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asset_manifest_watcher_stale",
			Help: "Whether the watcher considers the manifest unverifiable/stale (1) or fresh (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.errorsTotal,
		m.profilingActive,
		m.manifestInfo,
		m.manifestAssets,
		m.manifestLoadedTs,
		m.manifestReloads,
		m.resolveTotal,
		m.watcherPolls,
		m.watcherSwaps,
		m.watcherErrors,
		m.watcherLastSuccess,
		m.watcherStale,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	m.buildInfo.With(buildInfoLabels(app, component, vi)).Set(1)
}

func buildInfoLabels(app, component string, vi *version.Info) prometheus.Labels {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	return prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// SetManifest records the identity and size of the manifest the server is
// currently resolving against.
func (m *ServerMetrics) SetManifest(sha256 string, assets int, loadedAt time.Time) {
	m.manifestInfo.Reset() // clear previous label value
	m.manifestInfo.WithLabelValues(sha256).Set(1)
	m.manifestAssets.Set(float64(assets))
	m.manifestLoadedTs.Set(float64(loadedAt.Unix()))
}

func (m *ServerMetrics) IncManifestReload() {
	m.manifestReloads.Inc()
}

// IncResolve counts one resolution by its fallback tier. Pass "none" for
// exact hits and "direct" when every tier missed and the path was guessed.
func (m *ServerMetrics) IncResolve(fallback string) {
	m.resolveTotal.WithLabelValues(fallback).Inc()
}

func (m *ServerMetrics) IncWatcherPolls() {
	m.watcherPolls.Inc()
}

func (m *ServerMetrics) IncWatcherSwaps() {
	m.watcherSwaps.Inc()
}

func (m *ServerMetrics) IncWatcherError(errType string) {
	m.watcherErrors.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccess.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) {
	if stale {
		m.watcherStale.Set(1)
	} else {
		m.watcherStale.Set(0)
	}
}
