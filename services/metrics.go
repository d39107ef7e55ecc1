package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - счётчики фан-аута, фоновых задач и сборки ленты.
type Metrics struct {
	fanoutAppends  *prometheus.CounterVec
	fanoutAudience prometheus.Histogram
	tasks          *prometheus.CounterVec
	feedDuration   *prometheus.HistogramVec
	staleSkipped   *prometheus.CounterVec
	eventsTotal    *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		fanoutAppends: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_fanout_appends_total",
				Help: "Timeline appends performed by fan-out",
			},
			[]string{"result"},
		),
		fanoutAudience: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feed_fanout_audience_size",
				Help:    "Number of timelines targeted per fan-out",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
		),
		tasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_tasks_total",
				Help: "Background tasks processed by kind and result",
			},
			[]string{"kind", "result"},
		),
		feedDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_assemble_duration_seconds",
				Help:    "Duration of feed page assembly",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"mode"},
		),
		staleSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_stale_entries_skipped_total",
				Help: "Timeline entries dropped at read time",
			},
			[]string{"mode", "reason"},
		),
		eventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_events_published_total",
				Help: "Domain events handed to the publisher",
			},
			[]string{"kind", "result"},
		),
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
