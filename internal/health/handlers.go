package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthzHandler serves liveness: 200 when the probe passes, 503 with the
// failure reason when it does not. A nil probe is always healthy.
func HealthzHandler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// ReadyzHandler serves readiness with the same contract as HealthzHandler.
// Readiness gates traffic: it should fail while no manifest snapshot is
// loaded and during drain.
func ReadyzHandler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// Routes attaches the probe endpoints to a chi router. /-/ping answers as
// long as the process is up; the other two consult their probes.
func Routes(r chi.Router, healthy, ready Probe) {
	r.Get("/-/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Method(http.MethodGet, "/-/healthy", HealthzHandler(healthy))
	r.Method(http.MethodGet, "/-/ready", ReadyzHandler(ready))
}
