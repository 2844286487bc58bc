package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ocppRequestLatency *prometheus.HistogramVec
	ocppMessages       *prometheus.CounterVec
	bootAttempts       *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	transitionLag      prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter) {
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocpp_request_latency_seconds",
			Help:    "Latency of outbound OCPP requests until their result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
	msg := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocpp_messages_total",
			Help: "Number of outbound OCPP requests by action and result",
		},
		[]string{"action", "result"},
	)
	boot := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocpp_boot_attempts_total",
			Help: "Number of BootNotification attempts by registration status",
		},
		[]string{"status"},
	)
	tr := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charger_transitions_total",
			Help: "Number of state transitions consumed by the dispatch engine",
		},
		[]string{"phase"},
	)
	lag := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charger_transition_lag_total",
			Help: "Number of times the dispatch engine fell behind the transition stream",
		},
	)
	return lat, msg, boot, tr, lag
}

func init() {
	ocppRequestLatency, ocppMessages, bootAttempts, transitionsTotal, transitionLag = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(ocppRequestLatency, ocppMessages, bootAttempts, transitionsTotal, transitionLag)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	ocppRequestLatency, ocppMessages, bootAttempts, transitionsTotal, transitionLag = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
