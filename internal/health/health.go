// Package health exposes liveness and readiness probes for the radscribe
// server.
//
//   - GET /healthz reports liveness. A process that can answer HTTP is
//     alive, so it always returns 200 with the build version.
//   - GET /readyz reports readiness. It returns 200 only when every
//     registered [Checker] (storage backend, providers) passes.
//
// Bodies are JSON with a "status" of "ok" or "fail" and, for readiness,
// a per-check breakdown.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds how long a single readiness check may run.
const probeTimeout = 5 * time.Second

// Checker probes one dependency for the readiness endpoint.
type Checker struct {
	// Name labels the check in the JSON response, e.g. "store" or "stt".
	Name string

	// Check returns nil when the dependency is usable. It must honor
	// context cancellation.
	Check func(ctx context.Context) error
}

type response struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list and version are
// fixed at construction; the handler is safe for concurrent use.
type Handler struct {
	version  string
	checkers []Checker
}

// New creates a probe handler reporting the given build version. Checkers
// run sequentially in the order given on every /readyz request.
func New(version string, checkers ...Checker) *Handler {
	cs := make([]Checker, len(checkers))
	copy(cs, checkers)
	return &Handler{version: version, checkers: cs}
}

// Healthz always answers 200 OK with the build version.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok", Version: h.version})
}

// Readyz runs every checker under a [probeTimeout] deadline derived from
// the request context and answers 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	status := http.StatusOK
	body := response{Status: "ok", Checks: checks}

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			body.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, body)
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
