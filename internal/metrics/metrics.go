// Package metrics provides Prometheus instrumentation for the pairing
// service. It exposes gauges for connection, queue, and pairing counts,
// counters for search and relay throughput, and a histogram for queue wait
// time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strangerchat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MatchQueueDepth tracks the number of connections waiting to be paired.
	MatchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strangerchat_match_queue_depth",
		Help: "Current number of connections in the matching queue",
	})

	// ActivePairings tracks the current number of active pairings.
	ActivePairings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strangerchat_active_pairings",
		Help: "Current number of active pairings",
	})

	// PairingsFormed counts pairings formed since process start.
	PairingsFormed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strangerchat_pairings_formed_total",
		Help: "Total number of pairings formed",
	})

	// SearchRequests counts startConnection requests, labeled by outcome:
	// "enqueued", "duplicate", or "rejected".
	SearchRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strangerchat_search_requests_total",
		Help: "Total number of search requests",
	}, []string{"outcome"})

	// RelayedMessages counts relayed payloads, labeled by outcome:
	// "forwarded" or "not_paired".
	RelayedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strangerchat_relayed_messages_total",
		Help: "Total number of relayed payloads",
	}, []string{"outcome"})

	// PairWaitSeconds records the time a connection spent in the queue before
	// being paired.
	PairWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "strangerchat_pair_wait_seconds",
		Help:    "Time spent in the matching queue before being paired",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60, 300},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MatchQueueDepth,
		ActivePairings,
		PairingsFormed,
		SearchRequests,
		RelayedMessages,
		PairWaitSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
