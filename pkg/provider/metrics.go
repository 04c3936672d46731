package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// constructionsTotal counts construction attempts by outcome:
	// ok, unknown_type, failed, timeout.
	constructionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botcore_provider_constructions_total",
			Help: "Provider construction attempts by adapter type and result",
		},
		[]string{"type", "result"},
	)

	constructDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botcore_provider_construct_duration_seconds",
			Help:    "Time spent in provider constructors",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"},
	)

	activeProviders = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "botcore_providers_active",
			Help: "Live provider instances by category",
		},
		[]string{"category"},
	)

	terminateErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botcore_provider_terminate_errors_total",
			Help: "Provider termination hooks that returned an error",
		},
		[]string{"type"},
	)
)
