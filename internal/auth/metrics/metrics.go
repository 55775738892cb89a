package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts authentication outcomes.
type Metrics struct {
	Outcomes *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Outcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "govid_auth_outcomes_total",
			Help: "Authentication attempts by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	m.Outcomes.WithLabelValues(outcome).Inc()
}
