package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rhoward/ztverify/internal/models"
	pkghttp "github.com/rhoward/ztverify/pkg/http"
)

type contextKey string

const claimsContextKey contextKey = "token_claims"

// ClaimsFromContext returns the validated claims for the request, if any.
func ClaimsFromContext(ctx context.Context) (*models.TokenClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*models.TokenClaims)
	return claims, ok
}

// Authenticate validates the bearer token and stores its claims on the
// request context. Only access tokens pass; refresh tokens are rejected.
func (tm *TokenManager) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			pkghttp.WriteUnauthorized(w, "Missing or malformed authorization header")
			return
		}

		claims, err := tm.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil || claims.Type != "access" {
			pkghttp.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates a route to admin accounts. Must run after
// Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			pkghttp.WriteUnauthorized(w, "Authentication required")
			return
		}
		if claims.Role != models.RoleAdmin {
			pkghttp.WriteForbidden(w, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
