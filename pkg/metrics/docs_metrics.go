// Package metrics provides Prometheus metrics for monitoring the docs service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Document synchronization metrics
var (
	// cachedDocs tracks how many documents currently hold a change-log cache entry.
	cachedDocs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docs_cached_documents",
			Help: "Number of documents with a live change-log cache entry",
		},
	)

	// activeSessions tracks how many subscriber sessions are currently registered.
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docs_active_sessions",
			Help: "Number of live document subscriber sessions",
		},
	)

	// docWritesTotal records accepted write calls.
	// Labels:
	//   - coalesced: "true" if the batch merged into the previous same-session batch
	docWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_writes_total",
			Help: "Total number of accepted document write calls",
		},
		[]string{"coalesced"},
	)

	// flushTotal records flush attempts against durable storage.
	// Labels:
	//   - trigger: "sweep", "evict", "manual" or "shutdown"
	//   - status: "success" or "failed"
	flushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_flush_total",
			Help: "Total number of change-log flush attempts",
		},
		[]string{"trigger", "status"},
	)

	// flushDuration records the duration of flush operations.
	// Buckets: 5ms .. 10s
	flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docs_flush_duration_seconds",
			Help:    "Duration of change-log flush operations in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	// eventsSentTotal records events delivered to subscriber channels.
	// Labels:
	//   - event: event type ("open", "write", "close", ...)
	eventsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_events_sent_total",
			Help: "Total number of events delivered to document subscribers",
		},
		[]string{"event"},
	)

	// eventsDroppedTotal records events that could not be delivered to a subscriber
	// because its channel was closed or full.
	eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docs_events_dropped_total",
			Help: "Total number of events dropped on closed or congested subscriber channels",
		},
	)
)

func init() {
	// Register all docs-related metrics with Prometheus
	prometheus.MustRegister(cachedDocs)
	prometheus.MustRegister(activeSessions)
	prometheus.MustRegister(docWritesTotal)
	prometheus.MustRegister(flushTotal)
	prometheus.MustRegister(flushDuration)
	prometheus.MustRegister(eventsSentTotal)
	prometheus.MustRegister(eventsDroppedTotal)
}

// SetCachedDocs updates the cached-documents gauge.
func SetCachedDocs(n int) {
	cachedDocs.Set(float64(n))
}

// SessionOpened increments the active-sessions gauge.
func SessionOpened() {
	activeSessions.Inc()
}

// SessionClosed decrements the active-sessions gauge.
func SessionClosed() {
	activeSessions.Dec()
}

// RecordWrite records an accepted write call.
func RecordWrite(coalesced bool) {
	label := "false"
	if coalesced {
		label = "true"
	}
	docWritesTotal.WithLabelValues(label).Inc()
}

// RecordFlush records the outcome and duration of a flush attempt.
// Parameters:
//   - trigger: what initiated the flush ("sweep", "evict", "manual", "shutdown")
//   - durationSeconds: flush duration in seconds
//   - err: flush error, nil on success
func RecordFlush(trigger string, durationSeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	flushTotal.WithLabelValues(trigger, status).Inc()
	flushDuration.Observe(durationSeconds)
}

// RecordEventSent records one event delivered to a subscriber channel.
func RecordEventSent(event string) {
	eventsSentTotal.WithLabelValues(event).Inc()
}

// RecordEventDropped records one undeliverable event.
func RecordEventDropped() {
	eventsDroppedTotal.Inc()
}
