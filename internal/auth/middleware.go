// Package auth guards operator routes with API keys.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pendergraft/raffled/internal/storage"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// HeaderAPIKey is the header clients send their key in. A bearer token in
// the Authorization header is accepted too.
const HeaderAPIKey = "X-API-Key"

// ErrorWriter writes an error envelope.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// OperatorFromContext returns the key that authorized the request, if any.
func OperatorFromContext(ctx context.Context) *storage.APIKey {
	if key, ok := ctx.Value(operatorContextKey).(*storage.APIKey); ok {
		return key
	}
	return nil
}

// OperatorName returns the name of the authorizing key, or "" for anonymous
// requests.
func OperatorName(ctx context.Context) string {
	if key := OperatorFromContext(ctx); key != nil {
		return key.Name
	}
	return ""
}

// Middleware rejects requests that do not carry a valid, unrevoked API key.
func Middleware(store storage.APIKeyStore, writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := keyFromRequest(r)
			if apiKey == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="raffled"`)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
				return
			}

			key, err := store.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="raffled", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func keyFromRequest(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
