package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch metrics
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlink_dispatch_total",
		Help: "Dispatched requests by request kind and outcome",
	}, []string{"kind", "outcome"})

	DispatchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlink_dispatch_in_flight",
		Help: "Dispatches currently waiting on the remote endpoint",
	})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatlink_dispatch_duration_seconds",
		Help:    "Time from dispatch to terminal result",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"kind"})

	// Result channel metrics
	ResultBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlink_result_backlog",
		Help: "Results waiting for the consumer to drain them",
	})

	ResultsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlink_results_dropped_total",
		Help: "Results discarded because the consumer had gone",
	})

	// Server metrics
	ServerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatlink_server_requests_total",
		Help: "Requests handled by the endpoint by type and outcome",
	}, []string{"type", "outcome"})

	ServerConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlink_server_connections",
		Help: "Transport sessions currently served",
	})

	StoredFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlink_stored_files",
		Help: "Files held by the endpoint's file store",
	})
)
