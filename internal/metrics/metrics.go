// ABOUTME: Prometheus metrics for tubeagent
// ABOUTME: Counters and histograms for messages, capability calls, job transitions and notifications

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts handled inbound messages
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tubeagent",
			Subsystem: "conversation",
			Name:      "messages_total",
			Help:      "Total inbound messages by classified intent and outcome",
		},
		[]string{"intent", "outcome"},
	)

	// CapabilityCallsTotal counts calls to the AI capability
	CapabilityCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tubeagent",
			Subsystem: "capability",
			Name:      "calls_total",
			Help:      "Total AI capability calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	// CapabilityDuration observes AI capability latency
	CapabilityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tubeagent",
			Subsystem: "capability",
			Name:      "call_duration_seconds",
			Help:      "AI capability call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// JobTransitionsTotal counts video job state transitions
	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tubeagent",
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Total video job state transitions by target state",
		},
		[]string{"state"},
	)

	// ActiveJobs tracks jobs seen in a non-terminal state by the last poll sweep
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tubeagent",
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Video jobs not yet completed or failed",
		},
	)

	// NotificationsTotal counts completion notifications
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tubeagent",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total job completion notifications by surface and status",
		},
		[]string{"surface", "status"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordMessage records a handled message
func RecordMessage(intent, outcome string) {
	MessagesTotal.WithLabelValues(intent, outcome).Inc()
}

// RecordCapabilityCall records one AI capability call
func RecordCapabilityCall(operation, status string, elapsed time.Duration) {
	CapabilityCallsTotal.WithLabelValues(operation, status).Inc()
	CapabilityDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordJobTransition records a job entering state
func RecordJobTransition(state string) {
	JobTransitionsTotal.WithLabelValues(state).Inc()
}

// SetActiveJobs sets the active job gauge
func SetActiveJobs(n int) {
	ActiveJobs.Set(float64(n))
}

// RecordNotification records a notification attempt
func RecordNotification(surface, status string) {
	NotificationsTotal.WithLabelValues(surface, status).Inc()
}
