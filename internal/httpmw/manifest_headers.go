package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ManifestInfo exposes the identity of the manifest snapshot a response
// was served from.
type ManifestInfo interface {
	ManifestVersion() string
	ManifestSHA256() string
}

// ManifestHeaders adds X-Asset-Manifest-Version and X-Asset-Manifest-Hash
// to every response so consumers can pin cache entries to the exact
// manifest snapshot that produced them. The hash header carries the
// leading 12 hex characters, enough to tell snapshots apart.
func ManifestHeaders(info ManifestInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				v := info.ManifestVersion()
				h := info.ManifestSHA256()
				if len(h) > 12 {
					h = h[:12]
				}
				if v != "" {
					w.Header().Set("X-Asset-Manifest-Version", v)
				}
				if h != "" {
					w.Header().Set("X-Asset-Manifest-Hash", h)
				}

				if span := trace.SpanFromContext(r.Context()); span != nil && span.IsRecording() {
					if v != "" {
						span.SetAttributes(attribute.String("asset.manifest.version", v))
					}
					if h != "" {
						span.SetAttributes(attribute.String("asset.manifest.hash", h))
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
