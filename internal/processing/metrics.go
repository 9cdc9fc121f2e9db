package processing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "patchbot"

const (
	cancelReasonSuperseded  = "superseded"
	cancelReasonPRClosed    = "pr_closed"
	cancelReasonRepoRemoved = "repository_removed"
	cancelReasonShutdown    = "shutdown"
)

var metrics = struct {
	slots         prometheus.Gauge
	cancellations *prometheus.CounterVec
}{
	slots: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      "processing_slots",
		Help:      "number of pull requests that are currently processed",
	}),
	cancellations: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "processing_cancellations_total",
			Help:      "number of canceled processing tasks",
		},
		[]string{"reason"},
	),
}
