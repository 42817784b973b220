package registry

import "github.com/prometheus/client_golang/prometheus"

var (
	processesTracked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "srtctl",
			Subsystem: "registry",
			Name:      "processes_tracked_total",
			Help:      "Total number of processes registered for the job",
		},
	)

	processFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "srtctl",
			Subsystem: "registry",
			Name:      "process_failures_total",
			Help:      "Processes observed in a failure terminal state",
		},
		[]string{"critical"},
	)

	forcedKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "srtctl",
			Subsystem: "registry",
			Name:      "forced_kills_total",
			Help:      "Processes that survived the grace period and were force killed",
		},
	)
)

func init() {
	prometheus.MustRegister(processesTracked, processFailures, forcedKills)
}
