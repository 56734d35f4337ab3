package inference

import "github.com/prometheus/client_golang/prometheus"

var retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "orchd",
	Subsystem: "inference",
	Name:      "retries_total",
	Help:      "Total transient-failure retries across all requests",
})

func init() {
	prometheus.MustRegister(retriesTotal)
}
