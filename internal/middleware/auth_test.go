package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/auth"
)

func protected(t *testing.T, enabled bool) (http.Handler, string) {
	t.Helper()
	a, err := auth.NewAuthenticator(auth.Config{Enabled: enabled, Password: "pw", JWTSecret: "k"})
	require.NoError(t, err)
	token := ""
	if enabled {
		token, _, err = a.Authenticate("admin", "pw")
		require.NoError(t, err)
	}
	h := AuthMiddleware(a, Options{QueryParam: "token"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := GetUserFromContext(r.Context()); c != nil {
			w.Write([]byte(c.Username))
		}
	}))
	return h, token
}

func TestAuthMiddleware(t *testing.T) {
	h, token := protected(t, true)

	tests := []struct {
		name   string
		path   string
		header string
		code   int
	}{
		{"missing", "/api", "", http.StatusUnauthorized},
		{"bad format", "/api", "Token abc", http.StatusUnauthorized},
		{"invalid", "/api", "Bearer nope", http.StatusUnauthorized},
		{"header", "/api", "Bearer " + token, http.StatusOK},
		{"query", "/ws?token=" + token, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "admin", rec.Body.String())
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	h, _ := protected(t, false)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
