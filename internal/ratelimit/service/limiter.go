// Package service applies the fixed-window request limit to a key.
package service

import (
	"context"
	"log/slog"
	"time"

	"govid/internal/ratelimit/metrics"
	"govid/internal/ratelimit/models"
	"govid/pkg/platform/circuit"
	"govid/pkg/requestcontext"
)

//go:generate mockgen -source=limiter.go -destination=mocks/mocks.go -package=mocks WindowStore

// WindowStore counts requests per key in fixed windows.
type WindowStore interface {
	Increment(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

const (
	DefaultLimit  = 1000
	DefaultWindow = 15 * time.Minute
)

// Limiter checks keys against one limit and window. With a fallback store
// configured, repeated primary failures open a circuit and checks are served
// from the fallback until the primary recovers.
type Limiter struct {
	primary  WindowStore
	fallback WindowStore
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Limiter)

func WithLimit(limit int, window time.Duration) Option {
	return func(l *Limiter) {
		if limit > 0 {
			l.limit = limit
		}
		if window > 0 {
			l.window = window
		}
	}
}

// WithFallback serves checks from fallback while breaker is open.
func WithFallback(fallback WindowStore, breaker *circuit.Breaker) Option {
	return func(l *Limiter) {
		l.fallback = fallback
		l.breaker = breaker
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func New(primary WindowStore, opts ...Option) *Limiter {
	l := &Limiter{
		primary: primary,
		limit:   DefaultLimit,
		window:  DefaultWindow,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fallback != nil && l.breaker == nil {
		l.breaker = circuit.New("ratelimit")
	}
	return l
}

func (l *Limiter) Limit() int            { return l.limit }
func (l *Limiter) Window() time.Duration { return l.window }

// Check counts one request for key. An error means no store could answer and
// the caller decides whether to fail open. While the circuit is open the
// primary is only tried on periodic probes.
func (l *Limiter) Check(ctx context.Context, key string) (*models.Result, error) {
	if l.fallback != nil && !l.breaker.Allow(requestcontext.Now(ctx)) {
		return l.checkFallback(ctx, key)
	}

	res, err := l.primary.Increment(ctx, key, l.limit, l.window)
	if err == nil {
		l.recordPrimarySuccess(ctx)
		return res, nil
	}

	if l.metrics != nil {
		l.metrics.IncStoreErrors()
	}
	if l.fallback == nil {
		return nil, err
	}

	useFallback, change := l.breaker.RecordFailure()
	if change.Opened {
		l.logger.WarnContext(ctx, "rate limit store circuit opened, using in-process fallback",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		if l.metrics != nil {
			l.metrics.SetFallbackActive(true)
		}
	}
	if !useFallback {
		return nil, err
	}
	return l.checkFallback(ctx, key)
}

func (l *Limiter) checkFallback(ctx context.Context, key string) (*models.Result, error) {
	res, err := l.fallback.Increment(ctx, key, l.limit, l.window)
	if err != nil {
		return nil, err
	}
	res.Degraded = true
	return res, nil
}

func (l *Limiter) recordPrimarySuccess(ctx context.Context) {
	if l.breaker == nil {
		return
	}
	if _, change := l.breaker.RecordSuccess(); change.Closed {
		l.logger.InfoContext(ctx, "rate limit store circuit closed")
		if l.metrics != nil {
			l.metrics.SetFallbackActive(false)
		}
	}
}
