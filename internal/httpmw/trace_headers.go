package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Response headers carrying the active trace identity. Support tickets
// about a bad asset fetch can quote these to find the exact request.
const (
	TraceIDHeader = "X-Trace-Id"
	SpanIDHeader  = "X-Span-Id"
)

// TraceResponseHeaders stamps the response with the active trace and span
// IDs. Untraced requests (asset fetches are filtered out of tracing) get
// no headers.
func TraceResponseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := trace.SpanFromContext(r.Context()).SpanContext()
		if sc.IsValid() {
			w.Header().Set(TraceIDHeader, sc.TraceID().String())
			w.Header().Set(SpanIDHeader, sc.SpanID().String())
		}
		next.ServeHTTP(w, r)
	})
}
