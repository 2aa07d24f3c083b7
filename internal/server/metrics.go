// Package server: metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// documentsIngestedTotal counts documents written through the upload
	// endpoints, partitioned by document type and outcome.
	documentsIngestedTotal *prometheus.CounterVec

	// ragRequestsTotal counts /api/rag-query requests, partitioned by
	// outcome: "ok", "no_context", or "error".
	ragRequestsTotal *prometheus.CounterVec

	// queueMessagesTotal counts ingestion messages accepted by /api/ingest
	// and /api/upload-excel, partitioned by action.
	queueMessagesTotal *prometheus.CounterVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) registers into the provided
// registry rather than the global default, keeping unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, route, and status code.",
		}, []string{"method", "route", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docq",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		documentsIngestedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docq",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents processed by the upload endpoints, partitioned by document type and outcome.",
		}, []string{"document_type", "outcome"}),

		ragRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docq",
			Subsystem: "rag",
			Name:      "requests_total",
			Help:      "Total number of RAG query requests, partitioned by outcome.",
		}, []string{"outcome"}),

		queueMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docq",
			Subsystem: "queue",
			Name:      "messages_total",
			Help:      "Ingestion messages accepted for asynchronous processing, partitioned by action.",
		}, []string{"action"}),
	}
}

// observeRequest records one completed HTTP request.
func (m *serverMetrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDurationSeconds.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
