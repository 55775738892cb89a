package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	authmodels "govid/internal/auth/models"
	"govid/internal/consent/metrics"
	"govid/internal/consent/models"
	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/sentinel"
	"govid/pkg/requestcontext"
)

// MaxRequestValidity bounds how far ahead a requested grant may run.
const MaxRequestValidity = 365 * 24 * time.Hour

// RequestInput is a validated consent request from an organization.
type RequestInput struct {
	OwnerExternalID string
	Attributes      []string
	Purpose         domain.AccessPurpose
	ValidUntil      time.Time
}

// Requests creates pending grants and serves grant lookups for their owners.
type Requests struct {
	grants     Store
	identities IdentityLookup
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type RequestsOption func(*Requests)

func WithRequestsLogger(logger *slog.Logger) RequestsOption {
	return func(r *Requests) { r.logger = logger }
}

func WithRequestsMetrics(m *metrics.Metrics) RequestsOption {
	return func(r *Requests) { r.metrics = m }
}

func NewRequests(grants Store, identities IdentityLookup, opts ...RequestsOption) *Requests {
	r := &Requests{grants: grants, identities: identities, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequestConsent records a pending grant from requester to the citizen named in
// in. The owner approves it out of band.
//
// Errors: CodeForbidden when the requester's role cannot ask for consent,
// CodeNotFound for an unknown or non-citizen owner, CodeBadRequest for invalid
// attributes or validity.
func (r *Requests) RequestConsent(ctx context.Context, requester authmodels.Principal, in RequestInput) (*models.Grant, error) {
	if !requester.Role.CanRequestConsent() {
		return nil, dErrors.New(dErrors.CodeForbidden, "role cannot request consent")
	}
	now := requestcontext.Now(ctx)
	if in.ValidUntil.After(now.Add(MaxRequestValidity)) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "valid_until is too far in the future")
	}

	owner, err := r.identities.FindByExternalID(ctx, in.OwnerExternalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "citizen not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve citizen")
	}
	if !owner.Role.OwnsPersonalData() {
		return nil, dErrors.New(dErrors.CodeNotFound, "citizen not found")
	}

	grant, err := models.NewPendingGrant(owner.ID, requester.ID, in.Attributes, in.Purpose, in.ValidUntil, now)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, dErrors.MessageOf(err))
	}
	if err := r.grants.Create(ctx, grant); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save consent request")
	}

	if r.metrics != nil {
		r.metrics.IncRequestOpened()
	}
	r.logger.InfoContext(ctx, "consent requested",
		"consent_id", grant.ID.String(),
		"requester_id", requester.ID.String(),
		"owner_id", owner.ID.String(),
		"attributes", len(grant.AllowedAttributes),
		"request_id", requestcontext.RequestID(ctx),
	)
	return grant, nil
}

// OwnedGrant returns the grant with id when owner owns it. Grants owned by
// someone else are reported as not found.
func (r *Requests) OwnedGrant(ctx context.Context, owner authmodels.Principal, id domain.ConsentID) (*models.Grant, error) {
	grant, err := r.grants.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	if grant.OwnerID != owner.ID {
		return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
	}
	return grant, nil
}

// Requester returns the identity a grant was issued to.
func (r *Requests) Requester(ctx context.Context, grant *models.Grant) (*authmodels.Identity, error) {
	identity, err := r.identities.FindByID(ctx, grant.RequesterID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load requester")
	}
	return identity, nil
}
