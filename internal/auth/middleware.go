package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

// ContextKey is the key type for context values.
type ContextKey string

// UserContextKey is the context key for the authenticated identity.
const UserContextKey ContextKey = "user"

// Middleware authenticates HTTP requests with bearer tokens.
type Middleware struct {
	jwtManager *JWTManager
}

// NewMiddleware creates authentication middleware.
func NewMiddleware(jwtManager *JWTManager) *Middleware {
	return &Middleware{jwtManager: jwtManager}
}

// Handler validates the bearer token and attaches the caller's identity
// to the request context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			denied(w, "Not authenticated")
			return
		}

		token, err := ExtractBearerToken(authHeader)
		if err != nil {
			denied(w, "Invalid authorization header")
			return
		}

		identity, err := m.jwtManager.ValidateAccessToken(token)
		if err != nil {
			denied(w, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func denied(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// IdentityFrom extracts the authenticated identity from a context.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(UserContextKey).(*Identity)
	return identity, ok
}
