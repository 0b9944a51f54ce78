package propagate

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for feed propagation.
type Metrics struct {
	Records *prometheus.CounterVec
}

// NewMetrics registers and returns propagator metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_propagated_records_total",
			Help: "Feed records seen by the propagator, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Records)
	return m
}
