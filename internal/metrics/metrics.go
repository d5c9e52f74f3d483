// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package metrics holds the Prometheus counters of a merge run
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "mzmerge"

// Metrics are the counters updated by the merge and alignment steps
type Metrics struct {
	Rectangles       prometheus.Gauge
	TracesMerged     *prometheus.CounterVec
	JobsSkipped      *prometheus.CounterVec
	Segments         *prometheus.CounterVec
	AlignCoverage    prometheus.Histogram
	Features         prometheus.Counter
	SamplePassTiming prometheus.Histogram
}

// New creates the metrics and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rectangles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rectangles",
			Help:      "Number of rectangles with at least one contributing sample",
		}),
		TracesMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "traces_total",
			Help:      "Derived sample traces merged into rectangles, by sample",
		}, []string{"sample"}),
		JobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "skipped_total",
			Help:      "Rectangle jobs skipped, by reason",
		}, []string{"reason"}),
		Segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segment",
			Name:      "segments_total",
			Help:      "Segments found, merged trace or projected onto samples",
		}, []string{"kind"}),
		AlignCoverage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "align",
			Name:      "coverage",
			Help:      "Fraction of merged intensity matched per sample alignment",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}),
		Features: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_total",
			Help:      "Features extracted",
		}),
		SamplePassTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "sample_pass_seconds",
			Help:      "Duration of merging one sample into all rectangles",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Rectangles, m.TracesMerged, m.JobsSkipped, m.Segments,
			m.AlignCoverage, m.Features, m.SamplePassTiming)
	}
	return m
}
