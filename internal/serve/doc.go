// Package serve assembles the asset origin: a static handler for the
// published tree, a JSON API over the resolution engine, and the
// middleware stack both share. A separate admin listener carries metrics,
// health, and pprof so none of it rides the public port.
package serve
