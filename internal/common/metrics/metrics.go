// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Total number of notification dispatch requests",
		},
		[]string{"kind"}, // "fanout" or "single"
	)

	DeliveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_delivery_outcomes_total",
			Help: "Per-recipient delivery outcomes by class",
		},
		[]string{"class"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "dispatch_batch_duration_seconds",
			Help: "Duration of one batch of concurrent sends",
		},
	)

	InFlightSends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_in_flight_sends",
			Help: "Number of transport sends currently in flight",
		},
	)

	SubscribersDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_subscribers_deactivated_total",
			Help: "Subscribers moved to inactive after a permanent delivery failure",
		},
	)
)
