package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Explanations *prometheus.CounterVec
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Explanations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govid_advisory_explanations_total",
			Help: "Consent explanations produced, by text source",
		}, []string{"source"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "govid_advisory_cache_hits_total",
			Help: "Explanations served from the in-process cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "govid_advisory_cache_misses_total",
			Help: "Explanations that had to be computed",
		}),
	}
}

func (m *Metrics) IncExplanation(source string) { m.Explanations.WithLabelValues(source).Inc() }

func (m *Metrics) IncCacheHit() { m.CacheHits.Inc() }

func (m *Metrics) IncCacheMiss() { m.CacheMisses.Inc() }
