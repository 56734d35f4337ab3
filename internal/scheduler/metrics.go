package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	swapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchd",
		Subsystem: "scheduler",
		Name:      "swaps_total",
		Help:      "Total model swap cycles started",
	})

	dispatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchd",
		Subsystem: "scheduler",
		Name:      "dispatch_total",
		Help:      "Total requests dispatched to a backend",
	})

	failureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orchd",
		Subsystem: "scheduler",
		Name:      "failures_total",
		Help:      "Total requests that ended in failure",
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchd",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Requests currently parked pending a swap",
	})
)

func init() {
	prometheus.MustRegister(swapsTotal, dispatchTotal, failureTotal, queueDepth)
}
