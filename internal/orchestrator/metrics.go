package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var stageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "srtctl",
		Subsystem: "orchestrator",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of each orchestrator stage",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	},
	[]string{"stage"},
)

func init() {
	prometheus.MustRegister(stageDuration)
}
