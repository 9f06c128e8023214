// Package telemetry holds the service's Prometheus metrics and tracing
// helpers.
//
// Metrics register with the default Prometheus registry on package init
// and are served by the HTTP binding at /metrics. Tracing uses the global
// OpenTelemetry tracer provider, which is a no-op until one is installed.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sadhana"

var (
	// eventsIngested counts ingest calls.
	// Labels: event_type, outcome (inserted, duplicate)
	eventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "ingested_total",
		Help:      "Session events ingested, by outcome",
	}, []string{"event_type", "outcome"})

	// adaptationDecisions counts persisted decisions.
	// Labels: source (deterministic, scorer)
	adaptationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "adaptation",
		Name:      "decisions_total",
		Help:      "Adaptation decisions emitted, by source",
	}, []string{"source"})

	// scorerFallbacks counts scorer consultations that fell back to the
	// deterministic result.
	// Labels: component (adaptation, stage), reason
	scorerFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scorer",
		Name:      "fallbacks_total",
		Help:      "External scorer fallbacks, by reason",
	}, []string{"component", "reason"})

	// scorerLatency measures external scorer calls, successful or not.
	// Labels: component
	scorerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scorer",
		Name:      "latency_seconds",
		Help:      "External scorer call latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
	}, []string{"component"})

	// webhookAttempts counts delivery attempts.
	// Labels: outcome (delivered, retrying, dead_letter)
	webhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "attempts_total",
		Help:      "Webhook delivery attempts, by resulting status",
	}, []string{"outcome"})

	// webhooksQueued counts deliveries created by fan-out.
	webhooksQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "queued_total",
		Help:      "Webhook deliveries queued by fan-out",
	})

	// projectionRefresh measures daily projection maintenance.
	// Labels: mode (incremental, full)
	projectionRefresh = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "projection",
		Name:      "refresh_duration_seconds",
		Help:      "Daily projection refresh duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	// httpRequests measures HTTP handling.
	// Labels: method, route, status
	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// RecordIngest counts an ingest call.
func RecordIngest(eventType string, duplicate bool) {
	outcome := "inserted"
	if duplicate {
		outcome = "duplicate"
	}
	eventsIngested.WithLabelValues(eventType, outcome).Inc()
}

// RecordDecision counts a persisted adaptation decision.
func RecordDecision(source string) {
	adaptationDecisions.WithLabelValues(source).Inc()
}

// RecordScorerFallback counts a scorer fallback for component.
func RecordScorerFallback(component, reason string) {
	scorerFallbacks.WithLabelValues(component, reason).Inc()
}

// RecordScorerLatency observes the duration of one scorer call.
func RecordScorerLatency(component string, d time.Duration) {
	scorerLatency.WithLabelValues(component).Observe(d.Seconds())
}

// RecordWebhookAttempt counts one delivery attempt by its new status.
func RecordWebhookAttempt(outcome string) {
	webhookAttempts.WithLabelValues(outcome).Inc()
}

// RecordWebhooksQueued counts n deliveries created by fan-out.
func RecordWebhooksQueued(n int) {
	webhooksQueued.Add(float64(n))
}

// RecordProjectionRefresh observes one projection refresh.
func RecordProjectionRefresh(mode string, d time.Duration) {
	projectionRefresh.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordHTTPRequest observes one handled HTTP request.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Observe(d.Seconds())
}
