package realip

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_ClientIP(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "proxy trust disabled",
			cfg:        Config{TrustProxy: false, TrustedProxies: []string{"10.0.0.0/8"}},
			remoteAddr: "192.168.1.100:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50"},
			want:       "192.168.1.100",
		},
		{
			name:       "trusted peer",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8", "192.168.0.0/16"}},
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.5"},
			want:       "203.0.113.50",
		},
		{
			name:       "untrusted peer",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}},
			remoteAddr: "192.168.1.100:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50"},
			want:       "192.168.1.100",
		},
		{
			name:       "x-real-ip fallback",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}},
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Real-IP": " 203.0.113.50 "},
			want:       "203.0.113.50",
		},
		{
			name:       "spoofed leftmost hop is ignored",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8", "172.16.0.0/12"}},
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.50, 172.16.0.1, 10.0.0.2"},
			want:       "203.0.113.50",
		},
		{
			name:       "every hop trusted",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}},
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.9, 10.0.0.5"},
			want:       "10.0.0.9",
		},
		{
			name:       "no forwarding headers",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}},
			remoteAddr: "10.0.0.1:12345",
			want:       "10.0.0.1",
		},
		{
			name:       "single address entry",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"127.0.0.1"}},
			remoteAddr: "127.0.0.1:9000",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7"},
			want:       "198.51.100.7",
		},
		{
			name:       "ipv6 peer",
			cfg:        Config{TrustProxy: true, TrustedProxies: []string{"fd00::/8"}},
			remoteAddr: "[fd00::1]:443",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::7"},
			want:       "2001:db8::7",
		},
		{
			name:       "remote addr without port",
			cfg:        Config{},
			remoteAddr: "192.0.2.1",
			want:       "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewResolver(tt.cfg)
			require.NoError(t, err)

			var captured string
			handler := res.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetClientIP(r)
			}))

			req := httptest.NewRequest("GET", "/api/v1/raffle", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, captured)
		})
	}
}

func TestNewResolver_InvalidEntry(t *testing.T) {
	_, err := NewResolver(Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8", "proxy.internal"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy.internal")
}

func TestMiddleware_SkipsInvalidEntries(t *testing.T) {
	cfg := Config{TrustProxy: true, TrustedProxies: []string{"not-an-ip", "10.0.0.0/8"}}

	var captured string
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetClientIP(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:1000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.9", captured)
}

func TestGetClientIP_NoContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	assert.Equal(t, "192.168.1.100", GetClientIP(req))
}
