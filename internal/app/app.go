// Package app builds the server's object graph from configuration: stores,
// services, the audit stream and the HTTP router.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"govid/internal/advisory"
	"govid/internal/advisory/generator"
	advisorymetrics "govid/internal/advisory/metrics"
	audithandler "govid/internal/audit/handler"
	auditmetrics "govid/internal/audit/metrics"
	auditservice "govid/internal/audit/service"
	"govid/internal/audit/sink"
	"govid/internal/audit/store/entry"
	authmetrics "govid/internal/auth/metrics"
	authservice "govid/internal/auth/service"
	"govid/internal/auth/store/identity"
	"govid/internal/auth/token"
	consenthandler "govid/internal/consent/handler"
	consentmetrics "govid/internal/consent/metrics"
	consentservice "govid/internal/consent/service"
	"govid/internal/consent/store/grant"
	"govid/internal/platform/config"
	"govid/internal/platform/kafka"
	httpmetrics "govid/internal/platform/metrics"
	"govid/internal/platform/postgres"
	platformredis "govid/internal/platform/redis"
	ratelimitmetrics "govid/internal/ratelimit/metrics"
	ratelimitmiddleware "govid/internal/ratelimit/middleware"
	ratelimitservice "govid/internal/ratelimit/service"
	"govid/internal/ratelimit/store/window"
	"govid/internal/ratelimit/sweeper"
	recordshandler "govid/internal/records/handler"
	"govid/internal/records/store/attributes"
	"govid/internal/seed"
	httptransport "govid/internal/transport/http"
	"govid/pkg/platform/circuit"
)

const (
	auditTopicPartitions  = 3
	auditTopicReplication = 1
	sinkFlushTimeout      = 5 * time.Second
)

// App is a fully wired server. Close releases what Build opened.
type App struct {
	Handler  http.Handler
	Registry *prometheus.Registry
	Sweeper  *sweeper.Sweeper
	// Fixtures is set when the demo seed was loaded.
	Fixtures *seed.Fixtures

	logger  *slog.Logger
	sink    *sink.Kafka
	closers []func() error
}

type stores struct {
	identities interface {
		authservice.IdentityStore
		consentservice.IdentityLookup
		seed.IdentityStore
	}
	grants interface {
		consentservice.Store
		seed.GrantStore
	}
	attributes interface {
		recordshandler.AttributeStore
		seed.AttributeStore
	}
	audit auditservice.Store
}

type options struct {
	clock func() time.Time
}

type Option func(*options)

// WithClock fixes the request clock, the audit clock and the seed time.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Build connects to the configured backends and wires every module. Backends
// without configuration fall back to in-process stores.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	now := time.Now
	if o.clock != nil {
		now = o.clock
	}

	a := &App{logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	readiness := map[string]httptransport.ReadinessCheck{}

	st, err := a.openStores(ctx, cfg.Database, readiness)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	limiter, err := a.buildLimiter(ctx, cfg, readiness)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	authOpts := []authservice.Option{
		authservice.WithLogger(logger),
		authservice.WithMetrics(authmetrics.New(a.Registry)),
	}
	var issuer seed.TokenIssuer
	if cfg.Server.SessionSigningKey != "" {
		tokens := token.New(cfg.Server.SessionSigningKey)
		authOpts = append(authOpts, authservice.WithTokenVerifier(tokens))
		issuer = tokens
	}
	authn := authservice.New(st.identities, authOpts...)

	cm := consentmetrics.New(a.Registry)
	authorizer := consentservice.NewAuthorizer(st.grants, st.identities,
		consentservice.WithLogger(logger),
		consentservice.WithMetrics(cm),
	)
	requests := consentservice.NewRequests(st.grants, st.identities,
		consentservice.WithRequestsLogger(logger),
		consentservice.WithRequestsMetrics(cm),
	)

	recorder, err := a.buildRecorder(ctx, cfg, st.audit, now)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	var gen generator.Generator = generator.Unavailable{}
	if cfg.Advisory.URL != "" {
		gen = generator.NewHTTP(cfg.Advisory.URL, cfg.Advisory.Timeout)
	}
	explainer := advisory.New(gen,
		advisory.WithLogger(logger),
		advisory.WithMetrics(advisorymetrics.New(a.Registry)),
		advisory.WithCache(cfg.Advisory.CacheSize, cfg.Advisory.CacheTTL),
		advisory.WithGenerateTimeout(cfg.Advisory.Timeout),
	)

	if cfg.DemoSeed {
		if cfg.Database.URL != "" {
			logger.WarnContext(ctx, "demo seed skipped, it only loads into in-memory stores")
		} else {
			seedOpts := []seed.Option{seed.WithLogger(logger)}
			if issuer != nil {
				seedOpts = append(seedOpts, seed.WithTokenIssuer(issuer))
			}
			a.Fixtures, err = seed.Load(ctx, seed.Stores{
				Identities: st.identities,
				Grants:     st.grants,
				Attributes: st.attributes,
			}, now(), seedOpts...)
			if err != nil {
				a.Close(ctx)
				return nil, err
			}
		}
	}

	a.Handler = httptransport.NewRouter(httptransport.Deps{
		Logger:        logger,
		Gatherer:      a.Registry,
		HTTPMetrics:   httpmetrics.New(a.Registry),
		Authenticator: authn,
		Limiter:       limiter,
		Authorizer:    authorizer,
		Consent:       consenthandler.New(requests, explainer, recorder, logger),
		Records:       recordshandler.New(st.attributes, recorder, logger),
		Audit:         audithandler.New(recorder, st.identities, logger),
		Readiness:     readiness,
		Clock:         o.clock,
	})
	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg config.DatabaseConfig, readiness map[string]httptransport.ReadinessCheck) (*stores, error) {
	if cfg.URL == "" {
		a.logger.InfoContext(ctx, "no database configured, using in-memory stores")
		return &stores{
			identities: identity.NewInMemory(),
			grants:     grant.NewInMemory(),
			attributes: attributes.NewInMemory(),
			audit:      entry.NewInMemory(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := postgres.Migrate(db, a.logger); err != nil {
		return nil, err
	}
	readiness["postgres"] = pinger(db)
	return &stores{
		identities: identity.NewPostgres(db),
		grants:     grant.NewPostgres(db),
		attributes: attributes.NewPostgres(db),
		audit:      entry.NewPostgres(db),
	}, nil
}

// buildLimiter always keeps an in-process store: it is the primary without
// Redis and the circuit-breaker fallback with it. The sweeper tends it either
// way.
func (a *App) buildLimiter(ctx context.Context, cfg config.Config, readiness map[string]httptransport.ReadinessCheck) (*ratelimitmiddleware.Middleware, error) {
	rm := ratelimitmetrics.New(a.Registry)
	local := window.NewInMemory()
	opts := []ratelimitservice.Option{
		ratelimitservice.WithLimit(cfg.RateLimit.Max, cfg.RateLimit.Window),
		ratelimitservice.WithLogger(a.logger),
		ratelimitservice.WithMetrics(rm),
	}

	var primary ratelimitservice.WindowStore = local
	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, rc.Close)
		readiness["redis"] = rc.Health
		primary = window.NewRedis(rc.Client)
		opts = append(opts, ratelimitservice.WithFallback(local, circuit.New("ratelimit-redis")))
	}

	a.Sweeper = sweeper.New(local, cfg.RateLimit.SweepInterval,
		sweeper.WithLogger(a.logger),
		sweeper.WithMetrics(rm),
	)
	limiter := ratelimitservice.New(primary, opts...)
	return ratelimitmiddleware.New(limiter, a.logger,
		ratelimitmiddleware.WithDisabled(cfg.RateLimit.Disabled),
		ratelimitmiddleware.WithMetrics(rm),
	), nil
}

func (a *App) buildRecorder(ctx context.Context, cfg config.Config, store auditservice.Store, now func() time.Time) (*auditservice.Recorder, error) {
	am := auditmetrics.New(a.Registry)
	opts := []auditservice.Option{
		auditservice.WithMode(auditservice.Mode(cfg.Audit.Mode)),
		auditservice.WithWriteTimeout(cfg.Audit.WriteTimeout),
		auditservice.WithClock(now),
		auditservice.WithLogger(a.logger),
		auditservice.WithMetrics(am),
	}

	client, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	if client != nil {
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.Topic, auditTopicPartitions, auditTopicReplication); err != nil {
			// The stream is a mirror; the database stays the record.
			a.logger.WarnContext(ctx, "audit topic not ensured, publishing anyway",
				"topic", cfg.Kafka.Topic,
				"error", err,
			)
		}
		a.sink = sink.NewKafka(client, cfg.Kafka.Topic,
			sink.WithLogger(a.logger),
			sink.WithMetrics(am),
		)
		opts = append(opts, auditservice.WithSink(a.sink))
	}

	return auditservice.New(store, opts...), nil
}

// Close flushes the audit stream and releases connections in reverse order of
// opening.
func (a *App) Close(ctx context.Context) {
	if a.sink != nil {
		if err := a.sink.Flush(ctx, sinkFlushTimeout); err != nil {
			a.logger.WarnContext(ctx, "audit stream flush incomplete", "error", err)
		}
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.WarnContext(ctx, "shutdown released resources with errors", "error", err)
	}
}

func pinger(db *sql.DB) httptransport.ReadinessCheck {
	return db.PingContext
}
