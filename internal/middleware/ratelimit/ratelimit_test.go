package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func send(h http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(perMin, burst int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := New(Config{Enabled: true, RequestsPerMin: perMin, BurstSize: burst, CleanupMinutes: 1})
	l.now = clock.Now
	return l, clock
}

func TestLimiter_BurstThenLimited(t *testing.T) {
	l, _ := newTestLimiter(60, 3)
	h := l.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send(h, "/api/v1/raffle/enter", "192.168.1.100:1").Code, "entry %d", i)
	}

	rec := send(h, "/api/v1/raffle/enter", "192.168.1.100:1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var resp map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp["error"]["code"])
}

func TestLimiter_Refills(t *testing.T) {
	l, clock := newTestLimiter(60, 1)
	h := l.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, send(h, "/api/v1/raffle", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "/api/v1/raffle", "10.0.0.1:1").Code)

	clock.Advance(time.Second)
	assert.Equal(t, http.StatusOK, send(h, "/api/v1/raffle", "10.0.0.1:1").Code)
}

func TestLimiter_RetryAfterReflectsRate(t *testing.T) {
	l, _ := newTestLimiter(2, 1)
	h := l.Middleware(okHandler())

	send(h, "/api/v1/raffle", "10.0.0.1:1")
	rec := send(h, "/api/v1/raffle", "10.0.0.1:1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestLimiter_SeparateClients(t *testing.T) {
	l, _ := newTestLimiter(60, 1)
	h := l.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, send(h, "/api/v1/raffle", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "/api/v1/raffle", "10.0.0.1:2").Code)
	assert.Equal(t, http.StatusOK, send(h, "/api/v1/raffle", "10.0.0.2:1").Code)
}

func TestLimiter_ExemptPaths(t *testing.T) {
	l, _ := newTestLimiter(60, 1)
	h := l.Middleware(okHandler())

	send(h, "/api/v1/raffle", "10.0.0.1:1")
	for _, path := range []string{"/health", "/healthz", "/readyz", "/metrics"} {
		assert.Equal(t, http.StatusOK, send(h, path, "10.0.0.1:1").Code, path)
	}
}

func TestLimiter_Evict(t *testing.T) {
	l, clock := newTestLimiter(60, 1)
	h := l.Middleware(okHandler())

	send(h, "/api/v1/raffle", "10.0.0.1:1")
	clock.Advance(30 * time.Second)
	send(h, "/api/v1/raffle", "10.0.0.2:1")

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, l.evict())
	assert.Equal(t, 0, l.evict())
}

func TestLimiter_RunStops(t *testing.T) {
	l, _ := newTestLimiter(60, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
