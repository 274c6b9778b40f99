// Package metrics exposes Prometheus instrumentation for the producer
// and consumer paths.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	publishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_publishes_total",
			Help: "Total number of messages published",
		},
		[]string{"exchange"},
	)

	rpcTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_rpc_total",
			Help: "Total number of RPC calls by outcome",
		},
		[]string{"outcome"},
	)

	rpcDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_rpc_duration_seconds",
			Help:    "RPC round-trip duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_deliveries_total",
			Help: "Total number of deliveries by disposition (ack or reject)",
		},
		[]string{"disposition"},
	)

	controllerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warren_controller_duration_seconds",
			Help:    "Controller action duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"controller", "action", "status"},
	)
)

// RecordPublish counts one published message.
func RecordPublish(exchange string) {
	if exchange == "" {
		exchange = "(default)"
	}
	publishesTotal.WithLabelValues(exchange).Inc()
}

// RecordRPC counts one RPC call with its outcome and duration.
// Outcome is "ok", "timeout" or "error".
func RecordRPC(outcome string, duration time.Duration) {
	rpcTotal.WithLabelValues(outcome).Inc()
	rpcDuration.Observe(duration.Seconds())
}

// RecordDelivery counts one consumed delivery disposition.
func RecordDelivery(disposition string) {
	deliveriesTotal.WithLabelValues(disposition).Inc()
}

// RecordController observes one controller action run.
func RecordController(controller, action string, status int, duration time.Duration) {
	controllerDuration.
		WithLabelValues(controller, action, strconv.Itoa(status)).
		Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
