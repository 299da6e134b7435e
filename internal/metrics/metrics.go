package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_runs_total",
			Help: "Total number of analyzer runs",
		},
		[]string{"command", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_run_duration_seconds",
			Help:    "Duration of analyzer runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Incident metrics
	IncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_incidents_total",
			Help: "Total number of incidents detected",
		},
		[]string{"source"},
	)

	// Model metrics
	ModelRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analyzer_model_rows",
			Help: "Number of baseline rows in the stored model",
		},
		[]string{"model"},
	)

	ModelVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analyzer_model_version",
			Help: "Version of the stored model",
		},
		[]string{"model"},
	)

	// Service call metrics
	NewServiceCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analyzer_new_service_calls_total",
			Help: "Total number of newly registered service calls",
		},
	)
)
