// Package ratelimit provides per-IP rate limiting with background eviction
// of stale entries.
//
// This is a single-instance, in-memory limiter for basic abuse prevention
// in front of the asset origin. The origin itself is nearly stateless (a
// manifest snapshot in memory, immutable files on disk), so the limiter's
// job is to stop a single address from exhausting connections or goroutines
// and to give visibility into who is doing it: one log entry per offender,
// a counter for every denied request.
//
// It does not protect against distributed attacks, bandwidth-bill attacks,
// or clients that stay under the limit. Those belong to the CDN or WAF in
// front of us.
package ratelimit
