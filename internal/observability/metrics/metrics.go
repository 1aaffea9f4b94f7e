// Package metrics provides Prometheus instrumentation for the raffle service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled  bool
	register sync.Once

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Raffle metrics
	raffleEnterTotal   *prometheus.CounterVec
	raffleUpkeepTotal  *prometheus.CounterVec
	raffleFulfillTotal *prometheus.CounterVec
	rafflePlayers      prometheus.Gauge
	rafflePayoutWei    prometheus.Counter

	// Randomness coordinator metrics
	vrfRequestsTotal *prometheus.CounterVec
)

// Init initializes the metrics system. Collectors are registered once per
// process with a constant service label; later calls only toggle recording.
func Init(enabledFlag bool, serviceName string) {
	enabled = enabledFlag
	if enabled {
		register.Do(func() {
			reg := prometheus.DefaultRegisterer
			if serviceName != "" {
				reg = prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, reg)
			}
			registerCollectors(promauto.With(reg))
		})
	}
}

func registerCollectors(f promauto.Factory) {
	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	raffleEnterTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_enter_total",
			Help: "Total number of raffle entry attempts",
		},
		[]string{"status"},
	)

	raffleUpkeepTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_upkeep_total",
			Help: "Total number of round closure attempts",
		},
		[]string{"result"},
	)

	raffleFulfillTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_fulfill_total",
			Help: "Total number of randomness fulfillments delivered to the raffle",
		},
		[]string{"result"},
	)

	rafflePlayers = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "raffle_players",
			Help: "Number of players in the current round",
		},
	)

	// Float precision is fine here; the ledger holds exact amounts.
	rafflePayoutWei = f.NewCounter(
		prometheus.CounterOpts{
			Name: "raffle_payout_wei_total",
			Help: "Total amount paid out to winners, in wei",
		},
	)

	vrfRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrf_requests_total",
			Help: "Total number of randomness requests by outcome",
		},
		[]string{"status"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}
