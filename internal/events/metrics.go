package events

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for event publishing.
type Metrics struct {
	Published       *prometheus.CounterVec
	PublishFailures prometheus.Counter
}

// NewMetrics registers and returns publisher metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_events_published_total",
			Help: "Total domain events accepted by the bus, by detail type.",
		}, []string{"detail_type"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_event_publish_failures_total",
			Help: "Total domain events the bus rejected or the transport dropped. A non-zero value with successful writes indicates the write-ok/notify-failed dual state.",
		}),
	}
	reg.MustRegister(m.Published, m.PublishFailures)
	return m
}
