package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Recorded      *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	WriteDuration prometheus.Histogram
	SinkOutcomes  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govid_audit_entries_recorded_total",
			Help: "Audit entries persisted by action",
		}, []string{"action"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govid_audit_failures_total",
			Help: "Audit entries that could not be recorded, by stage and durability mode",
		}, []string{"stage", "mode"}),
		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "govid_audit_write_duration_seconds",
			Help:    "Time spent appending an audit entry to the store",
			Buckets: prometheus.DefBuckets,
		}),
		SinkOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govid_audit_sink_records_total",
			Help: "Audit entries mirrored to the stream, by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncRecorded(action string) { m.Recorded.WithLabelValues(action).Inc() }

func (m *Metrics) IncFailure(stage, mode string) { m.Failures.WithLabelValues(stage, mode).Inc() }

func (m *Metrics) ObserveWrite(seconds float64) { m.WriteDuration.Observe(seconds) }

func (m *Metrics) IncSink(outcome string) { m.SinkOutcomes.WithLabelValues(outcome).Inc() }
