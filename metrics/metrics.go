// Package metrics provides Prometheus metrics for the blog mirror.
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
	// Transport metrics
	transportRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogmirror_transport_requests_total",
			Help: "Total number of requests to the content and NLP APIs",
		},
		[]string{"endpoint", "status"},
	)

	transportRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogmirror_transport_request_duration_seconds",
			Help:    "Content and NLP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Coordinator metrics
	coordRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogmirror_coordinator_runs_total",
			Help: "Coordinated operations by outcome (committed, superseded, canceled)",
		},
		[]string{"outcome"},
	)

	coordInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blogmirror_coordinator_in_flight",
			Help: "Number of live coordinated operations",
		},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogmirror_cache_lookups_total",
			Help: "Result cache lookups by result (hit, negative, miss)",
		},
		[]string{"result"},
	)

	// Annotation metrics
	annotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogmirror_annotations_total",
			Help: "Annotation results by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Event metrics
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogmirror_events_published_total",
			Help: "Navigation events published to subscribers by type",
		},
		[]string{"type"},
	)

	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blogmirror_event_subscribers",
			Help: "Number of active event subscribers",
		},
	)

	treeSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blogmirror_tree_size",
			Help: "Number of categories and posts in the mirrored tree",
		},
		[]string{"kind"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTransport records one API request. A status of 0 means the
// request failed before a response arrived.
func RecordTransport(endpoint string, status int, duration time.Duration) {
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	transportRequestsTotal.WithLabelValues(endpoint, label).Inc()
	transportRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCoordRun records the outcome of a coordinated operation.
func RecordCoordRun(outcome string) {
	coordRunsTotal.WithLabelValues(outcome).Inc()
}

// SetCoordInFlight sets the number of live coordinated operations.
func SetCoordInFlight(n int) {
	coordInFlight.Set(float64(n))
}

// RecordCacheLookup records a result cache lookup.
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordAnnotation records the outcome of one annotation kind.
func RecordAnnotation(kind, outcome string) {
	annotationsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetTreeSize sets the category and post counts of the current tree.
func SetTreeSize(dirs, files int) {
	treeSize.WithLabelValues("category").Set(float64(dirs))
	treeSize.WithLabelValues("post").Set(float64(files))
}

// RecordEvent records one published navigation event.
func RecordEvent(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// SetEventSubscribers sets the number of active event subscribers.
func SetEventSubscribers(n int) {
	eventSubscribers.Set(float64(n))
}
