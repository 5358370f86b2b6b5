// Package health wires the asset origin's /-/healthy and /-/ready
// endpoints to composable probes.
//
// Liveness is a [Healthy] constant: if the process answers, it is alive.
// Readiness is an [All] of the [ShutdownGate] and a manifest probe, so
// the origin only takes traffic while it holds a loaded manifest snapshot
// and is not draining. [CheckFunc] adapts a plain function into a [Probe].
package health
