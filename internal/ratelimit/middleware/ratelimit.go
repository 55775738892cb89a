// Package middleware enforces the request limit on HTTP routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"govid/internal/ratelimit/metrics"
	"govid/internal/ratelimit/models"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/httputil"
	"govid/pkg/platform/privacy"
	"govid/pkg/requestcontext"
)

type Limiter interface {
	Check(ctx context.Context, key string) (*models.Result, error)
}

type Middleware struct {
	limiter  Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns the middleware into a pass-through (local demos, load tests).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) { m.metrics = mt }
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Limit counts the request against the authenticated identity when one is in
// the context, otherwise against the client address. Each request is
// counted under exactly one key. Store failures fail open.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		key, kind := keyFor(ctx)

		result, err := m.limiter.Check(ctx, key)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed, allowing request",
				"error", err,
				"key_kind", kind,
				"ip_prefix", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		if m.metrics != nil {
			m.metrics.IncDecision(kind, result.Allowed)
		}
		addRateLimitHeaders(w, result)

		if !result.Allowed {
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"key_kind", kind,
				"identity_id", identityForLog(ctx),
				"ip_prefix", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, try again after the window resets"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func keyFor(ctx context.Context) (key, kind string) {
	if id := requestcontext.IdentityID(ctx); !id.IsNil() {
		return models.KeyForIdentity(id), "identity"
	}
	return models.KeyForAddress(requestcontext.ClientIP(ctx)), "address"
}

func identityForLog(ctx context.Context) string {
	if id := requestcontext.IdentityID(ctx); !id.IsNil() {
		return id.String()
	}
	return ""
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		w.Header().Set("X-RateLimit-Status", "degraded")
	}
}
