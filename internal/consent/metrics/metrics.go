package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions      *prometheus.CounterVec
	LazyExpiries   prometheus.Counter
	GrantedFields  prometheus.Histogram
	RequestsOpened prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govid_consent_decisions_total",
			Help: "Consent authorization decisions by outcome",
		}, []string{"outcome"}),
		LazyExpiries: f.NewCounter(prometheus.CounterOpts{
			Name: "govid_consent_lazy_expiries_total",
			Help: "Active grants found past valid_until and marked expired on access",
		}),
		GrantedFields: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "govid_consent_granted_attributes",
			Help:    "Number of attributes released per granted decision",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
		RequestsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "govid_consent_requests_total",
			Help: "Pending consent requests created",
		}),
	}
}

func (m *Metrics) IncDecision(outcome string) { m.Decisions.WithLabelValues(outcome).Inc() }

func (m *Metrics) IncLazyExpiry() { m.LazyExpiries.Inc() }

func (m *Metrics) ObserveGranted(n int) { m.GrantedFields.Observe(float64(n)) }

func (m *Metrics) IncRequestOpened() { m.RequestsOpened.Inc() }
