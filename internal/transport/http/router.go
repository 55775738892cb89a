// Package httptransport assembles the public HTTP surface: platform
// middleware, the rate limiter around authentication, and each module's routes.
package httptransport

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	audithandler "govid/internal/audit/handler"
	authmiddleware "govid/internal/auth/middleware"
	consenthandler "govid/internal/consent/handler"
	consentmiddleware "govid/internal/consent/middleware"
	"govid/internal/platform/metrics"
	ratelimitmiddleware "govid/internal/ratelimit/middleware"
	recordshandler "govid/internal/records/handler"
	"govid/pkg/platform/httputil"
	"govid/pkg/platform/middleware/metadata"
	"govid/pkg/platform/middleware/request"
	"govid/pkg/platform/middleware/requesttime"
	"govid/pkg/requestcontext"
)

// ReadinessCheck reports whether a backing dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

const readinessTimeout = 2 * time.Second

// Deps carries everything the router mounts. Limiter runs once per request,
// between authentication and the rejection of failed sessions, so it keys
// by identity when the session is live and by client address otherwise.
type Deps struct {
	Logger        *slog.Logger
	Gatherer      prometheus.Gatherer
	HTTPMetrics   *metrics.Metrics
	Authenticator authmiddleware.Authenticator
	Limiter       *ratelimitmiddleware.Middleware
	Authorizer    consentmiddleware.Authorizer

	Consent *consenthandler.Handler
	Records *recordshandler.Handler
	Audit   *audithandler.Handler

	Readiness map[string]ReadinessCheck
	// Clock overrides the request clock; nil uses time.Now.
	Clock func() time.Time
}

// NewRouter wires the pipeline
//
//	authenticate -> limiter(identity or address) -> require auth -> role guard -> consent -> handler
//
// for every /api/v1 route.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	if d.Clock != nil {
		r.Use(requesttime.WithClock(d.Clock))
	} else {
		r.Use(requesttime.Middleware)
	}
	r.Use(request.Recovery(logger))
	r.Use(request.Logger(logger))
	if d.HTTPMetrics != nil {
		r.Use(d.HTTPMetrics.Middleware)
	}

	r.With(d.Limiter.Limit).Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(d.Readiness, logger))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(authmiddleware.Authenticate(d.Authenticator))
		api.Use(d.Limiter.Limit)
		api.Use(authmiddleware.RequireAuth(d.Authenticator, logger))

		d.Consent.Register(api)
		d.Records.Register(api, consentmiddleware.RequireConsent(
			d.Authorizer,
			consentmiddleware.FieldsResolver("externalID"),
			logger,
		))
		d.Audit.Register(api)
	})

	return r
}

func readinessHandler(checks map[string]ReadinessCheck, logger *slog.Logger) http.HandlerFunc {
	names := slices.Sorted(maps.Keys(checks))
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed",
					"check", name,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				results[name] = "fail"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": results})
	}
}
