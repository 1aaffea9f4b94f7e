// Package security provides request hygiene middleware: scanner filtering,
// body limits and content type checks.
package security

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Config holds the configuration for security middleware
type Config struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

// Probes for software this service does not run.
var scannerPrefixes = []string{
	"/wp-", "/xmlrpc.php", "/phpmyadmin", "/phpinfo", "/.php",
	"/.git/", "/.env", "/.htaccess", "/.htpasswd",
	"/cgi-bin/", "/web-inf/", "/server-status", "/shell", "/config.",
	"/admin/",
}

var traversalMarkers = []string{"../", "..\\", "..%2f", "..%5c", "%2e%2e", "%00", "\x00"}

// Suspicious reports whether a request path looks like scanner or traversal
// traffic. Both the decoded and raw forms are checked.
func Suspicious(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, prefix := range scannerPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	forms := []string{path, strings.ToLower(u.EscapedPath())}
	if decoded, err := url.PathUnescape(u.EscapedPath()); err == nil {
		forms = append(forms, strings.ToLower(decoded))
	}
	for _, form := range forms {
		for _, marker := range traversalMarkers {
			if strings.Contains(form, marker) {
				return true
			}
		}
	}
	return false
}

// FilterMiddleware rejects suspicious requests with a generic 400 that does
// not say what triggered it.
func FilterMiddleware(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Suspicious(r.URL) {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
