package httpmw

import "net/http"

// Security note: CSRF protection is not implemented because it is not
// applicable. The API is stateless (no cookies, no sessions, no
// authentication) and the only mutating route is cache invalidation.

// SecurityHeaders adds the security headers an asset origin needs. The
// server hands out images and documents that documentation sites embed
// cross-origin, so resources are shared (CORP cross-origin, permissive
// CORS for GETs) while everything executable is locked down: nothing
// served here may run scripts or be framed.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// require HTTPS for one year, including subdomains, allow preload
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")

		// assets are data, never documents with active content
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'; sandbox")

		// never sniff past the declared MIME type
		w.Header().Set("X-Content-Type-Options", "nosniff")

		w.Header().Set("X-Frame-Options", "DENY")

		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// nothing served here uses device features
		w.Header().Set("Permissions-Policy", "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()")

		// keep Flash/Acrobat from loading cross-domain policy files
		w.Header().Set("X-Permitted-Cross-Domain-Policies", "none")

		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		// the published tree is meant to be embedded by the docs sites
		w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD")

		next.ServeHTTP(w, r)
	})
}
