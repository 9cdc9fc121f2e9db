package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "patchbot"

const (
	patchResultCommitted = "committed"
	patchResultConflict  = "conflict"
	patchResultEmpty     = "empty"
	patchResultNone      = "no_artifact"
)

var metrics = struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	patches  *prometheus.CounterVec
}{
	runs: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "pipeline_runs_total",
			Help:      "number of finished pull request processing runs by result",
		},
		[]string{"result"},
	),
	duration: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "pipeline_duration_seconds",
			Help:      "duration of pull request processing runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"result"},
	),
	patches: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "pipeline_patches_total",
			Help:      "number of processed workflow patches by result",
		},
		[]string{"result"},
	),
}
