package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storystudio_provider_calls_total",
			Help: "Total number of provider call attempts by outcome.",
		},
		[]string{"family", "outcome"},
	)
	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storystudio_provider_call_duration_seconds",
			Help:    "Histogram of provider call attempt durations.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"family"},
	)
	providerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storystudio_provider_retries_total",
			Help: "Total number of provider retries by failure kind.",
		},
		[]string{"family", "kind"},
	)
)
