package serve

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tapestrydocs/asset-engine/internal/health"
	"github.com/tapestrydocs/asset-engine/internal/httpmw"
	"github.com/tapestrydocs/asset-engine/internal/log"
)

// Options configures the public origin handler and server.
type Options struct {
	Logger log.Logger
	Port   int

	// AssetHandler serves the published tree. Registered as the router's
	// NotFound fallback so explicit routes keep precedence.
	AssetHandler http.Handler

	// APIRoutes registers the resolver API endpoints.
	APIRoutes func(chi.Router)

	// Health and Readiness probes, served at /-/healthy and /-/ready.
	Health    health.Probe
	Readiness health.Probe

	// ManifestInfo stamps responses with the manifest snapshot identity.
	ManifestInfo httpmw.ManifestInfo

	// MetricsMW and RateLimitMW are optional middleware hooks.
	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler

	ClientIPOpts httpmw.ClientIPOptions

	UseRecoverMW bool
	OnPanic      func()

	// MaxBodyBytes caps request bodies. The origin accepts no bodies, so
	// the zero value means 1 KB.
	MaxBodyBytes int64
}
