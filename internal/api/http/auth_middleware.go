package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const adminTokenHeader = "X-Admin-Token"

// requireTenant checks the bearer token against the {clientId} route param.
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := chi.URLParam(r, "clientId")
		if err := s.setupSvc.Authenticate(clientID, extractToken(r)); err != nil {
			s.respondServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin guards the scheduler routes. They are closed when no admin
// token is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "admin routes disabled")
			return
		}
		got := r.Header.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken reads the bearer token. Browsers cannot set headers on
// EventSource or img requests, so a token query parameter is accepted too.
func extractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
