package api

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAdmin checks the Bearer token against the configured bcrypt
// admin token hash. Deletion is disabled entirely when no hash is
// configured.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth.AdminTokenHash == "" {
			writeJSON(w, http.StatusForbidden,
				errorResponse{"run deletion is disabled"})

			return
		}

		authHeader := r.Header.Get("Authorization")

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		if err := bcrypt.CompareHashAndPassword(
			[]byte(s.cfg.Auth.AdminTokenHash), []byte(token),
		); err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid admin token"})

			return
		}

		next.ServeHTTP(w, r)
	})
}
