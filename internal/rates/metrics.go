package rates

import "github.com/prometheus/client_golang/prometheus"

var providerAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "recurring_engine",
	Subsystem: "rates",
	Name:      "provider_attempts_total",
	Help:      "Exchange-rate provider attempts, labeled by provider and outcome.",
}, []string{"provider", "outcome"})

func init() {
	prometheus.MustRegister(providerAttempts)
}
