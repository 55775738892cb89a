// Package service resolves bearer tokens into authenticated principals.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"govid/internal/auth/metrics"
	"govid/internal/auth/models"
	"govid/internal/auth/token"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/sentinel"
	"govid/pkg/requestcontext"
)

//go:generate mockgen -source=authenticator.go -destination=mocks/mocks.go -package=mocks IdentityStore,TokenVerifier

// IdentityStore resolves a session token to its identity in one lookup.
// Returns sentinel.ErrNotFound when no session with that token is live at now.
type IdentityStore interface {
	FindBySessionToken(ctx context.Context, token string, now time.Time) (*models.Identity, error)
}

// TokenVerifier checks signed tokens before the store lookup.
type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

const (
	outcomeOK        = "ok"
	outcomeMissing   = "missing_token"
	outcomeInvalid   = "invalid_session"
	outcomeSuspended = "suspended"
	outcomeError     = "error"
)

// Authenticator turns a bearer token into a Principal.
type Authenticator struct {
	identities IdentityStore
	verifier   TokenVerifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Authenticator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authenticator) { a.metrics = m }
}

// WithTokenVerifier enables signed-token mode.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(a *Authenticator) { a.verifier = v }
}

func New(identities IdentityStore, opts ...Option) *Authenticator {
	a := &Authenticator{identities: identities, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate validates raw and returns the caller's principal.
//
// Errors, in check order:
//   - CodeUnauthorized: empty token, bad signature, or no live session
//   - CodeIdentitySuspended: the session is live but the identity is not active
//   - CodeInternal: the store failed
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (models.Principal, error) {
	if raw == "" {
		a.observe(outcomeMissing)
		return models.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}

	if a.verifier != nil {
		if _, err := a.verifier.Verify(raw); err != nil {
			a.observe(outcomeInvalid)
			return models.Principal{}, err
		}
	}

	identity, err := a.identities.FindBySessionToken(ctx, raw, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			a.observe(outcomeInvalid)
			return models.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired session")
		}
		a.observe(outcomeError)
		a.logger.ErrorContext(ctx, "session lookup failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return models.Principal{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve session")
	}

	if !identity.IsActive() {
		a.observe(outcomeSuspended)
		a.logger.WarnContext(ctx, "suspended identity presented a live session",
			"identity_id", identity.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return models.Principal{}, dErrors.New(dErrors.CodeIdentitySuspended, "identity is suspended")
	}

	a.observe(outcomeOK)
	return models.PrincipalFor(identity, raw), nil
}

func (a *Authenticator) observe(outcome string) {
	if a.metrics != nil {
		a.metrics.IncOutcome(outcome)
	}
}
