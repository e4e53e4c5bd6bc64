// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_created_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages appended, by role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages appended",
		},
		[]string{"role"},
	)

	// SendDuration tracks the duration of the full streaming-send protocol.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "send_duration_seconds",
			Help:    "Streaming send duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// StreamFailuresTotal tracks failed reply streams.
	StreamFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_failures_total",
			Help: "Total reply streams that ended in failure",
		},
	)

	// SearchQueriesTotal tracks search queries executed.
	SearchQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_queries_total",
			Help: "Total search queries executed",
		},
	)

	// SearchResultsReturned tracks result-set sizes per query.
	SearchResultsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_results_returned",
			Help:    "Number of results returned per search query",
			Buckets: []float64{0, 1, 5, 10, 25, 50},
		},
	)

	// KVOperationDuration tracks durable key-value operation latency.
	KVOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kv_operation_duration_seconds",
			Help:    "Durable key-value operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)

	// CorruptSnapshotsTotal tracks persisted collections that failed to decode.
	CorruptSnapshotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corrupt_snapshots_total",
			Help: "Persisted conversation collections that failed to decode",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordSend records metrics for one streaming send.
func RecordSend(model, status string, duration float64) {
	SendDuration.WithLabelValues(model, status).Observe(duration)
}

// RecordSearch records metrics for one search query.
func RecordSearch(results int) {
	SearchQueriesTotal.Inc()
	SearchResultsReturned.Observe(float64(results))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
