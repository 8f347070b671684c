// Package metrics declares the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TowerLookups counts resolver outcomes: hit, resolved, not_found, error
	TowerLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tower_lookups_total",
			Help: "Tower resolution requests by outcome",
		},
		[]string{"outcome"},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Outbound provider requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Outbound provider request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	LookupQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lookup_queue_depth",
		Help: "Tower lookups waiting for a worker",
	})

	LookupQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookup_queue_dropped_total",
		Help: "Tower lookups dropped because the queue was full",
	})

	// IngestReports counts reports by outcome: accepted, filtered, invalid, failed
	IngestReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_reports_total",
			Help: "Position reports by outcome",
		},
		[]string{"outcome"},
	)

	ImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tower_import_rows_total",
			Help: "Dataset rows processed by the bulk importer",
		},
		[]string{"outcome"},
	)

	EnrichedTowers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tower_enrichment_total",
			Help: "Address enrichment attempts by outcome",
		},
		[]string{"outcome"},
	)

	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_clients",
		Help: "Connected realtime subscribers",
	})

	RealtimeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_messages_total",
		Help: "Realtime messages dropped because a buffer was full",
	})

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)
