package httpapi

import (
	"net/http"
	"strings"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// probePath reports whether path must bypass the readiness and rate gates:
// probes and the scrape endpoint stay reachable while draining.
func probePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

// readinessGate refuses API traffic with NOT_READY while the gate is
// closed, during boot and during drain. Probe endpoints pass through.
func (s *Server) readinessGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !probePath(r.URL.Path) && !s.gate.IsOpen() {
			writeError(w, s.logger, types.NewUserError(types.CodeNotReady,
				"The gateway is not ready. Please retry shortly."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsGate enforces the configured origin list. Requests without an Origin
// header pass untouched. An empty list allows every origin. Preflights are
// answered here and never reach the mux: an allowed origin gets the grant
// headers, a disallowed one gets a bare 204 so the browser blocks on the
// missing grant.
func (s *Server) corsGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed := originAllowed(origin, s.store.Get().Server.CorsOrigins)
		h := w.Header()

		if r.Method == http.MethodOptions {
			if allowed {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Language-Hint")
				h.Set("Access-Control-Max-Age", "600")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !allowed {
			writeError(w, s.logger, types.NewUserError(types.CodeCORSRejected,
				"Origin is not allowed."))
			return
		}

		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		next.ServeHTTP(w, r)
	})
}

// originAllowed implements the origin policy: an empty list is development
// mode and admits everything; otherwise the match is exact and
// case-insensitive.
func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(origin, a) {
			return true
		}
	}
	return false
}

// rateGate applies the per-client limiter to the mutating API routes only.
// Probes, settings reads, and metric scrapes are never throttled.
func (s *Server) rateGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && isLimitedPath(r.URL.Path) {
			trusted := s.store.Get().Server.TrustedProxyHeader
			if !s.limiter.check(r.Context(), clientIP(r, trusted)) {
				writeError(w, s.logger, types.NewUserError(types.CodeRateLimited,
					"Too many requests. Please wait."))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isLimitedPath(path string) bool {
	return path == "/api/voice/turn" || path == "/api/settings"
}
