package checkrun

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metrics = struct {
	concluded *prometheus.CounterVec
}{
	concluded: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patchbot",
			Name:      "check_runs_concluded_total",
			Help:      "number of concluded check runs",
		},
		[]string{"conclusion"},
	),
}
