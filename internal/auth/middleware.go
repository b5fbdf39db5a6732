package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/simatei/kpi/internal/models"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Middleware resolves the caller from a bearer token. Requests without an
// Authorization header proceed as the anonymous user; a bad token is
// rejected.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			who := models.Anonymous()
			if header != "" {
				tokenStr, ok := strings.CutPrefix(header, "Bearer ")
				if !ok {
					unauthorized(w, "unauthorized")
					return
				}
				claims, err := ValidateToken(secret, tokenStr)
				if err != nil {
					unauthorized(w, "invalid token")
					return
				}
				who = models.Identity{Username: claims.Username}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), who)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

func WithIdentity(ctx context.Context, who models.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, who)
}

// GetIdentity returns the caller, or the anonymous user when none is set.
func GetIdentity(ctx context.Context) models.Identity {
	who, ok := ctx.Value(identityContextKey).(models.Identity)
	if !ok {
		return models.Anonymous()
	}
	return who
}
