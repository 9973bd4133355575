// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when the [Gate] is open
//     and all registered [Checker] functions pass.
//
// Responses are JSON objects with a top-level "status" field ("ok",
// "ready" or "not_ready") and, for /readyz, a "checks" map containing the
// result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Gate is the process-level readiness switch. It starts closed; the
// supervisor opens it once boot pre-checks complete and closes it again when
// draining begins. Safe for concurrent use.
type Gate struct {
	open atomic.Bool
}

// NewGate returns a closed Gate.
func NewGate() *Gate { return &Gate{} }

// Open marks the process ready to accept traffic.
func (g *Gate) Open() { g.open.Store(true) }

// Close marks the process not ready. In-flight work is unaffected.
func (g *Gate) Close() { g.open.Store(false) }

// IsOpen reports whether the gate is open.
func (g *Gate) IsOpen() bool { return g.open.Load() }

// Checker is a named readiness check. The Check function should return nil
// when the dependency is healthy and a non-nil error describing the failure
// otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "stt", "openclaw"). It
	// appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// livenessResult is the /healthz response body.
type livenessResult struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// readinessResult is the /readyz response body.
type readinessResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Safe for concurrent use; the checker
// list is fixed at construction time.
type Handler struct {
	gate     *Gate
	checkers []Checker
}

// New creates a [Handler] gated by gate that evaluates the given checkers on
// each /readyz request, sequentially in the order provided.
func New(gate *Gate, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{gate: gate, checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive, even while draining.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, livenessResult{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz is a readiness probe that returns 200 only when the gate is open
// and every registered [Checker] passes. Each checker is given a context
// with a [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := h.gate == nil || h.gate.IsOpen()

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := readinessResult{
		Status: "ready",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
