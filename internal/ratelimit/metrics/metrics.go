package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions      *prometheus.CounterVec
	StoreErrors    prometheus.Counter
	FallbackActive prometheus.Gauge
	SweptRecords   prometheus.Counter
	TrackedKeys    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govid_ratelimit_decisions_total",
			Help: "Rate limit checks by key kind and outcome",
		}, []string{"kind", "outcome"}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "govid_ratelimit_store_errors_total",
			Help: "Counter store failures; requests fail open when no fallback is available",
		}),
		FallbackActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "govid_ratelimit_fallback_active",
			Help: "1 while the shared counter store circuit is open and the in-process store is used",
		}),
		SweptRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "govid_ratelimit_swept_records_total",
			Help: "Expired in-memory counters removed by the sweeper",
		}),
		TrackedKeys: f.NewGauge(prometheus.GaugeOpts{
			Name: "govid_ratelimit_tracked_keys",
			Help: "In-memory counters after the last sweep",
		}),
	}
}

func (m *Metrics) IncDecision(kind string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.Decisions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncStoreErrors() { m.StoreErrors.Inc() }

func (m *Metrics) SetFallbackActive(active bool) {
	if active {
		m.FallbackActive.Set(1)
		return
	}
	m.FallbackActive.Set(0)
}

func (m *Metrics) ObserveSweep(removed, remaining int) {
	m.SweptRecords.Add(float64(removed))
	m.TrackedKeys.Set(float64(remaining))
}
