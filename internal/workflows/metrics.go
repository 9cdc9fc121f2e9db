package workflows

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "patchbot"

const (
	eventResultForwarded = "forwarded"
	eventResultDropped   = "dropped"
	eventResultIgnored   = "ignored"
)

var metrics = struct {
	listeners prometheus.Gauge
	events    *prometheus.CounterVec
}{
	listeners: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      "workflow_listeners",
		Help:      "number of registered workflow run listeners",
	}),
	events: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "workflow_events_total",
			Help:      "number of received workflow_run events by result",
		},
		[]string{"result"},
	),
}
