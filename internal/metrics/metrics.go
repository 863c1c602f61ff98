package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payments"

type Metrics struct {
	PaymentsInitiated   *prometheus.CounterVec
	PaymentsVerified    *prometheus.CounterVec
	PayoutsSettled      *prometheus.CounterVec
	BookkeepingFailures *prometheus.CounterVec
	OutboxPublished     prometheus.Counter
	OutboxPublishErrors prometheus.Counter
	OutboxBatchDuration prometheus.Histogram
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PaymentsInitiated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "initiated_total",
			Help:      "Payments created, by provider.",
		}, []string{"provider"}),
		PaymentsVerified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verified_total",
			Help:      "Payment verifications, by resulting status.",
		}, []string{"status"}),
		PayoutsSettled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Payout attempts, by settlement status.",
		}, []string{"status"}),
		BookkeepingFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookkeeping_failures_total",
			Help:      "Failures absorbed after the authoritative write, by step.",
		}, []string{"step"}),
		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox messages delivered to the broker.",
		}),
		OutboxPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_errors_total",
			Help:      "Outbox batches that failed to deliver.",
		}),
		OutboxBatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_batch_duration_seconds",
			Help:      "Time spent relaying one outbox batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Discard returns collectors registered on a private registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
