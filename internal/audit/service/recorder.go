// Package service records audit entries for successful guarded actions and
// serves the regulatory audit view.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"govid/internal/audit/metrics"
	"govid/internal/audit/models"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/requestcontext"
)

//go:generate mockgen -source=recorder.go -destination=mocks/mocks.go -package=mocks Store,Sink

// Store appends entries and lists them newest first.
type Store interface {
	Append(ctx context.Context, e *models.Entry) error
	List(ctx context.Context, filter models.Filter) ([]*models.Entry, error)
}

// Sink mirrors persisted entries downstream. Publish must not block on the
// network; delivery failures are the sink's to log.
type Sink interface {
	Publish(ctx context.Context, e *models.Entry)
}

// Mode selects what a failed write means for the caller.
type Mode string

const (
	// ModeBestEffort logs and counts failures; Record returns nil.
	ModeBestEffort Mode = "best_effort"
	// ModeStrict returns failures so the caller withholds its result.
	ModeStrict Mode = "strict"
)

const DefaultWriteTimeout = 3 * time.Second

// Recorder writes audit entries.
type Recorder struct {
	store   Store
	sink    Sink
	mode    Mode
	timeout time.Duration
	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Recorder)

func WithMode(mode Mode) Option {
	return func(r *Recorder) { r.mode = mode }
}

// WithWriteTimeout bounds a single append. The timeout starts from a context
// detached from the request, so client disconnects do not cut writes short.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

func WithSink(s Sink) Option {
	return func(r *Recorder) { r.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.clock = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Recorder) { r.tracer = t }
}

func New(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		mode:    ModeBestEffort,
		timeout: DefaultWriteTimeout,
		clock:   time.Now,
		logger:  slog.Default(),
		tracer:  otel.Tracer("govid/audit"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Mode() Mode { return r.mode }

// Record appends an entry for an action that already succeeded.
//
// In best-effort mode every failure is logged and counted and Record returns
// nil. In strict mode failures are returned: CodeInvariantViolation for
// invalid input, CodeTimeout when the write deadline passed, CodeInternal
// otherwise.
func (r *Recorder) Record(ctx context.Context, in models.Input) error {
	ctx, span := r.tracer.Start(ctx, "audit.Record", trace.WithAttributes(
		attribute.String("audit.action", string(in.Action)),
		attribute.String("audit.mode", string(r.mode)),
	))
	defer span.End()

	if err := in.Validate(); err != nil {
		return r.fail(ctx, span, "validation", in, err)
	}

	entry := models.NewEntry(in, requestcontext.RequestID(ctx), r.clock())

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	start := time.Now()
	err := r.store.Append(writeCtx, entry)
	if r.metrics != nil {
		r.metrics.ObserveWrite(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(writeCtx.Err(), context.DeadlineExceeded) {
			return r.fail(ctx, span, "timeout", in, dErrors.Wrap(err, dErrors.CodeTimeout, "audit write timed out"))
		}
		return r.fail(ctx, span, "store", in, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit entry"))
	}

	if r.metrics != nil {
		r.metrics.IncRecorded(string(in.Action))
	}
	span.SetAttributes(attribute.String("audit.entry_id", entry.ID.String()))

	if r.sink != nil {
		r.sink.Publish(context.WithoutCancel(ctx), entry)
	}
	return nil
}

func (r *Recorder) fail(ctx context.Context, span trace.Span, stage string, in models.Input, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	if r.metrics != nil {
		r.metrics.IncFailure(stage, string(r.mode))
	}
	r.logger.ErrorContext(ctx, "audit entry not recorded",
		"stage", stage,
		"mode", string(r.mode),
		"action", string(in.Action),
		"actor_id", in.ActorID.String(),
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	if r.mode == ModeStrict {
		return err
	}
	return nil
}

// List returns entries matching filter, newest first.
func (r *Recorder) List(ctx context.Context, filter models.Filter) ([]*models.Entry, error) {
	entries, err := r.store.List(ctx, filter.Normalize())
	if err != nil {
		return nil, dErrors.Wrap(fmt.Errorf("list audit entries: %w", err), dErrors.CodeInternal, "failed to list audit entries")
	}
	return entries, nil
}
