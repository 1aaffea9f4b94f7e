package security

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestFilterMiddleware(t *testing.T) {
	tests := []struct {
		path    string
		blocked bool
	}{
		{"/api/v1/raffle", false},
		{"/api/v1/raffle/players/0", false},
		{"/api/v1/vrf/requests/3/verify", false},
		{"/health", false},
		{"/metrics", false},
		{"/wp-admin/", true},
		{"/wp-login.php", true},
		{"/xmlrpc.php", true},
		{"/.git/config", true},
		{"/.env", true},
		{"/phpinfo.php", true},
		{"/cgi-bin/test.cgi", true},
		{"/admin/login", true},
		{"/api/v1/raffle/..%2f..%2fetc/passwd", true},
		{"/api/v1/raffle/%2e%2e/secret", true},
		{"/api/v1/raffle/file%00.json", true},
		{"/WP-ADMIN/", true},
	}

	handler := FilterMiddleware(true)(okHandler())
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if tt.blocked {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Contains(t, rec.Body.String(), "BAD_REQUEST")
				assert.NotContains(t, rec.Body.String(), "wp-")
			} else {
				assert.Equal(t, http.StatusOK, rec.Code)
			}
		})
	}
}

func TestFilterMiddleware_Disabled(t *testing.T) {
	handler := FilterMiddleware(false)(okHandler())
	for _, path := range []string{"/wp-admin/", "/.git/config", "/phpinfo.php"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMaxBodySizeMiddleware(t *testing.T) {
	var readErr error
	handler := MaxBodySizeMiddleware(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("within limit", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/raffle/enter", strings.NewReader(`{"player":"0x1"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, readErr)
	})

	t.Run("declared too large", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/raffle/enter", bytes.NewReader(make([]byte, 2<<20)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
	})

	t.Run("undeclared too large", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/raffle/enter", io.NopCloser(bytes.NewReader(make([]byte, 2<<20))))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Error(t, readErr)
	})
}

func TestRequireJSON(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		body        string
		contentType string
		want        int
	}{
		{"json post", "POST", `{}`, "application/json", http.StatusOK},
		{"json with charset", "POST", `{}`, "application/json; charset=utf-8", http.StatusOK},
		{"form post", "POST", `a=b`, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"missing type", "POST", `{}`, "", http.StatusUnsupportedMediaType},
		{"empty post", "POST", "", "", http.StatusOK},
		{"get ignores type", "GET", "", "text/plain", http.StatusOK},
	}

	handler := RequireJSON(okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/raffle/upkeep", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
