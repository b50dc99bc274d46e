// Copyright 2025 Certen Protocol
//
// Prometheus metrics for the feed pipeline.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector registered by the service.
type Metrics struct {
	CyclesTotal        prometheus.Counter
	CycleFailuresTotal prometheus.Counter
	CycleDuration      prometheus.Histogram

	SourceFetchesTotal *prometheus.CounterVec
	SourceErrorsTotal  *prometheus.CounterVec
	ObservationsTotal  *prometheus.CounterVec

	AggregatedSymbols prometheus.Gauge

	SubmissionsTotal    *prometheus.CounterVec
	ConfirmationLatency prometheus.Histogram
}

// New registers the pipeline metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricefeed_cycles_total",
			Help: "Number of feed cycles started.",
		}),
		CycleFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricefeed_cycle_failures_total",
			Help: "Number of feed cycles that failed before submission.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricefeed_cycle_duration_seconds",
			Help:    "Wall-clock duration of one feed cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		SourceFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricefeed_source_fetches_total",
			Help: "Batch fetch calls per source.",
		}, []string{"source"}),
		SourceErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricefeed_source_errors_total",
			Help: "Failed fetch calls per source.",
		}, []string{"source"}),
		ObservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricefeed_observations_total",
			Help: "Observations gathered per source.",
		}, []string{"source"}),
		AggregatedSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricefeed_aggregated_symbols",
			Help: "Symbols with an aggregated price in the latest cycle.",
		}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricefeed_submissions_total",
			Help: "Sub-batch submissions by final state.",
		}, []string{"state"}),
		ConfirmationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricefeed_confirmation_latency_seconds",
			Help:    "Time from submission to on-chain confirmation.",
			Buckets: prometheus.LinearBuckets(2, 4, 12),
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleFailuresTotal,
		m.CycleDuration,
		m.SourceFetchesTotal,
		m.SourceErrorsTotal,
		m.ObservationsTotal,
		m.AggregatedSymbols,
		m.SubmissionsTotal,
		m.ConfirmationLatency,
	)
	return m
}
