// Package middleware provides the HTTP middleware chain: request logging
// with trace ids, CORS, rate limiting, bearer authentication, role guards
// and panic recovery.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/greenhospital/reporting/internal/auth"
	"github.com/greenhospital/reporting/pkg/logger"
)

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// AuthMiddleware requires a valid bearer token on every request except
// the configured public paths.
type AuthMiddleware struct {
	auth      Authenticator
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates the middleware.
func NewAuthMiddleware(a Authenticator, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &AuthMiddleware{auth: a, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		principal, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			m.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Warn("authentication failed")
			respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		m.log.WithContext(ctx).WithFields(map[string]interface{}{
			"user_id": principal.UserID,
			"role":    principal.Role,
		}).Debug("authenticated")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !p.IsAdmin() {
			respondError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserID returns the authenticated user id, or "".
func UserID(ctx context.Context) string {
	p, _ := auth.FromContext(ctx)
	return p.UserID
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
