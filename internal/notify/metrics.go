package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for notification delivery.
type Metrics struct {
	Deliveries *prometheus.CounterVec
}

// NewMetrics registers and returns dispatcher metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_notification_deliveries_total",
			Help: "Notification deliveries by channel type and outcome.",
		}, []string{"type", "outcome"}),
	}
	reg.MustRegister(m.Deliveries)
	return m
}
