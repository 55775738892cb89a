// Package sweeper periodically drops expired in-memory rate-limit counters.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"govid/internal/ratelimit/metrics"
)

// Store is implemented by counter stores that hold expired records in
// process memory.
type Store interface {
	Sweep(now time.Time) int
	Len() int
}

type Sweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(store Store, interval time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{store: store, interval: interval, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx is cancelled. It returns nil on
// cancellation so it can run inside an errgroup without failing shutdown.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs a single pass and returns the number of removed records.
func (s *Sweeper) SweepOnce() int {
	removed := s.store.Sweep(s.now())
	remaining := s.store.Len()
	if s.metrics != nil {
		s.metrics.ObserveSweep(removed, remaining)
	}
	if removed > 0 {
		s.logger.Debug("swept expired rate limit counters", "removed", removed, "remaining", remaining)
	}
	return removed
}
