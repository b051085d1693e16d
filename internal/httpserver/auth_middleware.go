package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/IreinStark/marketgo/internal/domain"
	"github.com/IreinStark/marketgo/internal/security"
)

type contextKey string

const identityContextKey contextKey = "currentIdentity"

// WithIdentity returns a new context carrying the caller's identity.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// CurrentIdentity extracts the caller's identity from the request context.
func CurrentIdentity(r *http.Request) (domain.Identity, bool) {
	if v := r.Context().Value(identityContextKey); v != nil {
		if id, ok := v.(domain.Identity); ok {
			return id, true
		}
	}
	return domain.Identity{}, false
}

// AuthMiddleware validates the Bearer token and attaches the identity it was
// minted for to the request context. Identities come from the external
// provider; this layer only verifies, never creates.
func AuthMiddleware(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			identity, err := tokens.ParseIdentity(tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
