package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for triage scoring.
type Metrics struct {
	Evaluations *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_triage_evaluations_total",
			Help: "Triage evaluations by outcome (recommended severity or no_match).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Evaluations)
	return m
}
