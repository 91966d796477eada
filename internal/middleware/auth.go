package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"vigil/internal/auth"
)

// ContextKey is a custom type for context keys
type ContextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey ContextKey = "user"
)

// TokenValidator checks bearer tokens.
type TokenValidator interface {
	IsEnabled() bool
	ValidateToken(token string) (*auth.Claims, error)
}

// Options tune AuthMiddleware.
type Options struct {
	// QueryParam, when set, is accepted as a token source for clients that
	// cannot set headers, such as browser websockets.
	QueryParam string
}

// AuthMiddleware creates an HTTP middleware for JWT authentication
func AuthMiddleware(v TokenValidator, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, msg := extractToken(r, opts)
			if tokenString == "" {
				writeError(w, msg)
				return
			}

			claims, err := v.ValidateToken(tokenString)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					writeError(w, "token has expired")
				} else {
					writeError(w, "invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request, opts Options) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if opts.QueryParam != "" {
			if t := r.URL.Query().Get(opts.QueryParam); t != "" {
				return t, ""
			}
		}
		return "", "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "invalid authorization header format"
	}
	return parts[1], ""
}

func writeError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "` + msg + `"}`))
}

// GetUserFromContext retrieves user claims from the request context
func GetUserFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}
