// Package service decides which attributes a principal may read about a
// target identity and records new consent requests.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	authmodels "govid/internal/auth/models"
	"govid/internal/consent/metrics"
	"govid/internal/consent/models"
	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/sentinel"
	"govid/pkg/platform/strings"
	"govid/pkg/requestcontext"
)

//go:generate mockgen -source=authorizer.go -destination=mocks/mocks.go -package=mocks Store,IdentityLookup

// Store reads grants and performs the single write the access path makes.
type Store interface {
	FindActive(ctx context.Context, ownerID, requesterID domain.IdentityID) (*models.Grant, error)
	FindByID(ctx context.Context, id domain.ConsentID) (*models.Grant, error)
	MarkExpired(ctx context.Context, id domain.ConsentID, now time.Time) error
	Create(ctx context.Context, g *models.Grant) error
}

// IdentityLookup resolves external identifiers. Returns sentinel.ErrNotFound
// for unknown identities.
type IdentityLookup interface {
	FindByExternalID(ctx context.Context, externalID string) (*authmodels.Identity, error)
	FindByID(ctx context.Context, id domain.IdentityID) (*authmodels.Identity, error)
}

const (
	outcomeSelf      = "self"
	outcomeGranted   = "granted"
	outcomeNoConsent = "no_consent"
	outcomeExpired   = "expired"
	outcomeNoScope   = "no_matching_scope"
	outcomeError     = "error"
)

// Decision is the result of a successful authorization. Granted is the only
// attribute set a handler may release.
type Decision struct {
	ActorID          domain.IdentityID
	TargetID         domain.IdentityID
	TargetExternalID string
	// ConsentID is nil for self access.
	ConsentID  *domain.ConsentID
	Purpose    domain.AccessPurpose
	Granted    []string
	SelfAccess bool
}

// Authorizer evaluates consent for data access requests.
type Authorizer struct {
	grants     Store
	identities IdentityLookup
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Authorizer)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Authorizer) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authorizer) { a.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Authorizer) { a.tracer = t }
}

func NewAuthorizer(grants Store, identities IdentityLookup, opts ...Option) *Authorizer {
	a := &Authorizer{
		grants:     grants,
		identities: identities,
		logger:     slog.Default(),
		tracer:     otel.Tracer("govid/consent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize decides which of requested the actor may read about the identity
// with targetExternalID.
//
// Errors:
//   - CodeNoConsent: unknown target or no active grant for the pair
//   - CodeConsentExpired: the grant lapsed; it is persisted as expired first
//   - CodeNoMatchingScope: the grant covers none of the requested attributes
//   - CodeInternal: a store failed
func (a *Authorizer) Authorize(ctx context.Context, actor authmodels.Principal, targetExternalID string, requested []string) (*Decision, error) {
	ctx, span := a.tracer.Start(ctx, "consent.Authorize", trace.WithAttributes(
		attribute.String("actor.role", actor.Role.String()),
		attribute.Int("attributes.requested", len(requested)),
	))
	defer span.End()

	decision, outcome, err := a.authorize(ctx, actor, targetExternalID, strings.DedupeAndTrim(requested))
	a.observe(outcome)
	span.SetAttributes(attribute.String("consent.outcome", outcome))
	if err != nil {
		if outcome == outcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, "consent lookup failed")
		}
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.ObserveGranted(len(decision.Granted))
	}
	return decision, nil
}

func (a *Authorizer) authorize(ctx context.Context, actor authmodels.Principal, targetExternalID string, requested []string) (*Decision, string, error) {
	if actor.Role == authmodels.RoleCitizen && actor.ExternalID == targetExternalID {
		return &Decision{
			ActorID:          actor.ID,
			TargetID:         actor.ID,
			TargetExternalID: targetExternalID,
			Purpose:          domain.PurposeSelfService,
			Granted:          requested,
			SelfAccess:       true,
		}, outcomeSelf, nil
	}

	target, err := a.identities.FindByExternalID(ctx, targetExternalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, outcomeNoConsent, errNoConsent()
		}
		return nil, outcomeError, a.internal(ctx, err, "target lookup failed")
	}

	grant, err := a.grants.FindActive(ctx, target.ID, actor.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, outcomeNoConsent, errNoConsent()
		}
		return nil, outcomeError, a.internal(ctx, err, "consent lookup failed")
	}

	now := requestcontext.Now(ctx)
	if grant.NeedsExpiry(now) {
		if err := a.grants.MarkExpired(ctx, grant.ID, now); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			// The grant is still refused; the next access retries the write.
			a.logger.ErrorContext(ctx, "failed to persist consent expiry",
				"consent_id", grant.ID.String(),
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		if a.metrics != nil {
			a.metrics.IncLazyExpiry()
		}
		a.logger.InfoContext(ctx, "consent expired on access",
			"consent_id", grant.ID.String(),
			"valid_until", grant.ValidUntil,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, outcomeExpired, dErrors.New(dErrors.CodeConsentExpired, "consent has expired")
	}
	if grant.EffectiveStatus(now) != models.StatusActive {
		return nil, outcomeNoConsent, errNoConsent()
	}

	granted := grant.Permit(requested)
	if len(granted) == 0 {
		return nil, outcomeNoScope, dErrors.New(dErrors.CodeNoMatchingScope, "consent does not cover any requested attribute")
	}

	id := grant.ID
	return &Decision{
		ActorID:          actor.ID,
		TargetID:         target.ID,
		TargetExternalID: target.ExternalID,
		ConsentID:        &id,
		Purpose:          grant.Purpose,
		Granted:          granted,
	}, outcomeGranted, nil
}

func errNoConsent() error {
	return dErrors.New(dErrors.CodeNoConsent, "no active consent for this identity")
}

func (a *Authorizer) internal(ctx context.Context, err error, msg string) error {
	a.logger.ErrorContext(ctx, msg,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (a *Authorizer) observe(outcome string) {
	if a.metrics != nil {
		a.metrics.IncDecision(outcome)
	}
}
