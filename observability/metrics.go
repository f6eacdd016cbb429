package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every Prometheus collector the hub updates, grounded on
// the teacher's promauto.NewCounterVec/NewHistogramVec style.
type Metrics struct {
	BlocksReceived   *prometheus.CounterVec
	BlocksDropped    *prometheus.CounterVec
	BlocksSent       *prometheus.CounterVec
	RedirectOutcomes *prometheus.CounterVec
	AwaitOutcomes    *prometheus.CounterVec
	SocketsByState   *prometheus.GaugeVec
	InterfacesByState *prometheus.GaugeVec
	RouteLatency     prometheus.Histogram
}

// NewMetrics registers and returns the hub's metric collectors against reg,
// namespaced "datexhub". Production callers pass prometheus.DefaultRegisterer;
// tests that construct more than one ComHub in the same process should pass
// a fresh prometheus.NewRegistry() each time to avoid duplicate-collector
// registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BlocksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datexhub",
			Name:      "blocks_received_total",
			Help:      "Blocks received from any socket, by block type.",
		}, []string{"block_type"}),
		BlocksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datexhub",
			Name:      "blocks_dropped_total",
			Help:      "Blocks dropped during validation or redirect, by reason.",
		}, []string{"reason"}),
		BlocksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datexhub",
			Name:      "blocks_sent_total",
			Help:      "Blocks successfully handed to a transport, by block type.",
		}, []string{"block_type"}),
		RedirectOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datexhub",
			Name:      "redirect_outcomes_total",
			Help:      "Redirect pipeline outcomes: delivered, bounced, dropped_ttl, dropped_unreachable.",
		}, []string{"outcome"}),
		AwaitOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datexhub",
			Name:      "await_response_outcomes_total",
			Help:      "send_own_block_await_response per-receiver outcomes.",
		}, []string{"outcome"}),
		SocketsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "datexhub",
			Name:      "sockets",
			Help:      "Current sockets by lifecycle state.",
		}, []string{"state"}),
		InterfacesByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "datexhub",
			Name:      "interfaces",
			Help:      "Current interfaces by lifecycle state.",
		}, []string{"state"}),
		RouteLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "datexhub",
			Name:      "route_decision_seconds",
			Help:      "Time spent selecting sockets for a receiver list.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
