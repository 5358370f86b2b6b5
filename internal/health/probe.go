package health

import (
	"context"
	"sync/atomic"

	"github.com/tapestrydocs/asset-engine/internal/xerrors"
)

// Probe is evaluated at request time. nil means OK, non-nil carries the
// failure reason reported on /-/ready and /-/healthy.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Healthy is the probe for components with no failure mode, like the
// origin's liveness check: the process answering is the whole signal.
func Healthy() CheckFunc {
	return func(context.Context) error { return nil }
}

// Unhealthy always fails with the given reason.
func Unhealthy(reason string) CheckFunc {
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All is AND: every probe must pass; the first failure's reason wins.
// Readiness composes this way — the drain gate and the manifest snapshot
// probe both have to agree before the origin accepts traffic. nil probes
// are skipped.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// ShutdownGate fails readiness while the origin drains. The gate closes
// before http.Server.Shutdown runs so the load balancer stops routing new
// asset fetches while in-flight ones finish.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

func (g *ShutdownGate) Set(reason string) {
	g.draining.Store(true)
	g.reason.Store(reason)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

// Probe returns a live view of the gate: the same probe flips with every
// Set and Clear.
func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
