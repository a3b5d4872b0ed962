// Package metrics exposes Prometheus instrumentation for the sync path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "wardsync"

	syncRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_requests_total",
			Help:      "Total number of sync batches by result",
		},
		[]string{"result"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync batch processing in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of merged operations by outcome",
		},
		[]string{"outcome"},
	)

	operationsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_rejected_total",
			Help:      "Total number of rejected operations by reason class",
		},
		[]string{"reason"},
	)

	mergeRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_retries_total",
			Help:      "Total number of optimistic write retries",
		},
	)

	dedupeHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedupe_hits_total",
			Help:      "Total number of operations answered from the dedupe cache",
		},
	)

	notificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of published change notifications",
		},
	)

	notificationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Total number of failed change notifications",
		},
	)
)

func RecordSync(result string, duration time.Duration) {
	syncRequestsTotal.WithLabelValues(result).Inc()
	syncDuration.Observe(duration.Seconds())
}

func RecordOutcome(outcome string) {
	operationsTotal.WithLabelValues(outcome).Inc()
}

func RecordRejection(reason string) {
	operationsRejectedTotal.WithLabelValues(reason).Inc()
}

func RecordMergeRetry() {
	mergeRetriesTotal.Inc()
}

func RecordDedupeHit() {
	dedupeHitsTotal.Inc()
}

func RecordNotification(err error) {
	if err != nil {
		notificationFailuresTotal.Inc()
		return
	}
	notificationsTotal.Inc()
}
