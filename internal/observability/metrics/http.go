// Package metrics provides Prometheus instrumentation for the raffle service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// Middleware records request counts and latency, labelled by the matched
// chi route pattern so ids and addresses do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	if !enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routeLabel(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// routeLabel prefers the pattern chi matched. Unrouted requests (404s) fall
// back to a normalized path.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath replaces numeric and 0x-prefixed segments under /api/v1:
//
//	/api/v1/raffle/players/3 -> /api/v1/raffle/players/{id}
//	/api/v1/vrf/requests/42/fulfill -> /api/v1/vrf/requests/{id}/fulfill
func normalizePath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return path
	}
	var b strings.Builder
	b.WriteString("/api/v1")
	for _, seg := range strings.Split(rest, "/") {
		switch {
		case seg == "":
			continue
		case dynamicSegment(seg):
			b.WriteString("/{id}")
		default:
			b.WriteString("/" + seg)
		}
	}
	return b.String()
}

func dynamicSegment(seg string) bool {
	if hex, ok := strings.CutPrefix(seg, "0x"); ok && len(seg) >= 42 {
		return allOf(hex, func(c rune) bool {
			return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
		})
	}
	return allOf(seg, func(c rune) bool { return '0' <= c && c <= '9' })
}

func allOf(s string, pred func(rune) bool) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !pred(c) {
			return false
		}
	}
	return true
}
