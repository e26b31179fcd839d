package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// authMiddleware requires the configured Bearer token on every request.
// When no token is configured it is a no-op: the server binds to loopback
// and local tooling is trusted by default. /health and /metrics stay open
// for probes and the Prometheus scraper. The /events handshake may carry
// the token as a query parameter instead, since browser WebSocket clients
// cannot set an Authorization header.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.config.AuthToken == "" {
		return next
	}

	token := []byte(s.config.AuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		provided := bearerToken(r)
		if provided == "" && r.URL.Path == "/events" {
			provided = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(provided), token) != 1 {
			s.logger.Warn("rejected unauthenticated request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return t
	}
	return ""
}
