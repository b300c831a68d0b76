package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/keyforge-store/api/internal/platform/httpx"
	"github.com/keyforge-store/api/internal/platform/requestctx"
)

// Role names recognized in token claims.
const (
	RoleAdmin = "admin"
)

const bearerPrefix = "Bearer "

// RequireAuth rejects requests without a valid bearer token and stores the
// resolved identity on the context.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				httpx.WriteError(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing bearer token")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
			if token == "" {
				httpx.WriteError(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing bearer token")
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				requestctx.Logger(r.Context()).Warn("token verification failed", zap.Error(err))
				httpx.WriteError(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid token")
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers missing the given role. It must
// run after RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.WriteError(w, r, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing identity")
				return
			}
			if !identity.HasRole(role) {
				httpx.WriteError(w, r, http.StatusForbidden, httpx.CodeForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
