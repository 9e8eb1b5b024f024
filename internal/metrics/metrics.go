// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_registrations_total",
			Help: "Total number of book sign-ins",
		},
		[]string{"book"},
	)

	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_dispatches_total",
			Help: "Total number of dispatches by path",
		},
		[]string{"book", "path"},
	)

	TerminationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_terminations_total",
			Help: "Total number of dispatch terminations by reason",
		},
		[]string{"book", "reason"},
	)

	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_bids_total",
			Help: "Total number of overnight bids by submission outcome",
		},
		[]string{"outcome"},
	)

	AssignmentConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_assignment_conflicts_total",
			Help: "Dispatch attempts lost to a concurrent assignment",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "referral_queue_depth",
			Help: "Active registrations per book",
		},
		[]string{"book"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "referral_sweep_duration_seconds",
			Help:    "Daily sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
