// Package sink mirrors persisted audit entries to a Kafka topic for
// downstream compliance consumers.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"govid/internal/audit/metrics"
	"govid/internal/audit/models"
)

// Producer is the subset of *kgo.Client the sink uses. TryProduce fails the
// record with kgo.ErrMaxBuffered instead of waiting for buffer space.
type Producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
}

// Kafka publishes entries as JSON records keyed by target identity, so one
// citizen's trail stays ordered within a partition.
type Kafka struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Kafka)

func WithLogger(logger *slog.Logger) Option {
	return func(k *Kafka) { k.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(k *Kafka) { k.metrics = m }
}

func NewKafka(producer Producer, topic string, opts ...Option) *Kafka {
	k := &Kafka{producer: producer, topic: topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Publish enqueues e and returns immediately. A full producer buffer drops the
// record. Delivery failures are logged and counted but never reach the caller.
func (k *Kafka) Publish(ctx context.Context, e *models.Entry) {
	value, err := json.Marshal(e)
	if err != nil {
		k.observe("encode_error")
		k.logger.ErrorContext(ctx, "failed to encode audit entry for stream",
			"entry_id", e.ID.String(),
			"error", err,
		)
		return
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(partitionKey(e)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(e.Action)},
			{Key: "digest", Value: []byte(e.Digest)},
		},
		Timestamp: e.CreatedAt,
	}
	k.producer.TryProduce(ctx, record, func(r *kgo.Record, err error) {
		if errors.Is(err, kgo.ErrMaxBuffered) {
			k.observe("dropped")
			k.logger.WarnContext(ctx, "audit stream buffer full, entry not mirrored",
				"entry_id", e.ID.String(),
				"topic", r.Topic,
			)
			return
		}
		if err != nil {
			k.observe("error")
			k.logger.WarnContext(ctx, "audit entry not mirrored to stream",
				"entry_id", e.ID.String(),
				"topic", r.Topic,
				"error", err,
			)
			return
		}
		k.observe("ok")
	})
}

// Flush waits for buffered records, bounded by timeout.
func (k *Kafka) Flush(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return k.producer.Flush(ctx)
}

func (k *Kafka) observe(outcome string) {
	if k.metrics != nil {
		k.metrics.IncSink(outcome)
	}
}

func partitionKey(e *models.Entry) string {
	if e.TargetID != nil {
		return e.TargetID.String()
	}
	return e.ActorID.String()
}
