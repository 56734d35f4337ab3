package workflow

import "github.com/prometheus/client_golang/prometheus"

var (
	dispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchd",
		Subsystem: "workflow",
		Name:      "tasks_dispatched_total",
		Help:      "Total tasks dispatched to role handlers",
	})

	escalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchd",
		Subsystem: "workflow",
		Name:      "escalations_total",
		Help:      "Total task failures escalated with a plan snapshot",
	})
)

func init() {
	prometheus.MustRegister(dispatchedTotal, escalationsTotal)
}
