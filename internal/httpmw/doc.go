// Package httpmw provides the HTTP middleware for the asset origin
// server.
//
// serve.NewHandler composes these in a fixed order: security headers,
// request ID, client IP extraction, rate limiting, OTEL tracing,
// manifest version headers, metrics, structured logging, and the chi
// router.
//
// Each middleware is an independent function that can be tested,
// reordered, or removed individually. User-supplied data (query params,
// user-agent, headers) stays out of the logs to prevent PII leaks and
// log injection.
package httpmw
