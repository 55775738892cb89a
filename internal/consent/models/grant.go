// Package models defines consent grants and the attribute vocabulary they
// scope.
package models

import (
	"time"

	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/strings"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired, StatusRevoked:
		return true
	default:
		return false
	}
}

// Grant is a citizen's time-bounded permission for one requester to read a
// fixed set of attributes. The access path only ever moves a grant from
// active to expired.
type Grant struct {
	ID                domain.ConsentID
	OwnerID           domain.IdentityID
	RequesterID       domain.IdentityID
	Status            Status
	AllowedAttributes []string
	Purpose           domain.AccessPurpose
	ValidUntil        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPendingGrant validates a consent request and returns the grant awaiting
// the owner's decision.
//
// Errors: CodeInvariantViolation when owner equals requester, the attribute
// set is empty or contains unknown names, or validUntil is not after now.
func NewPendingGrant(owner, requester domain.IdentityID, attributes []string, purpose domain.AccessPurpose, validUntil, now time.Time) (*Grant, error) {
	if owner == requester {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "owner and requester must differ")
	}
	attributes = strings.DedupeAndTrim(attributes)
	if len(attributes) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "at least one attribute is required")
	}
	if unknown := UnknownAttributes(attributes); len(unknown) > 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown attribute: "+unknown[0])
	}
	if !validUntil.After(now) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "valid_until must be in the future")
	}
	return &Grant{
		ID:                domain.NewConsentID(),
		OwnerID:           owner,
		RequesterID:       requester,
		Status:            StatusPending,
		AllowedAttributes: attributes,
		Purpose:           purpose,
		ValidUntil:        validUntil,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// EffectiveStatus derives the status a grant has at now without touching
// storage. An active grant is expired once now is strictly after validUntil.
func EffectiveStatus(stored Status, validUntil, now time.Time) Status {
	if stored == StatusActive && now.After(validUntil) {
		return StatusExpired
	}
	return stored
}

func (g *Grant) EffectiveStatus(now time.Time) Status {
	return EffectiveStatus(g.Status, g.ValidUntil, now)
}

// NeedsExpiry reports whether the stored status lags the effective one.
func (g *Grant) NeedsExpiry(now time.Time) bool {
	return g.Status == StatusActive && g.EffectiveStatus(now) == StatusExpired
}

// Permit returns the requested attributes the grant allows, in request order
// without duplicates. Matching is exact and case-sensitive.
func (g *Grant) Permit(requested []string) []string {
	return strings.IntersectOrdered(requested, g.AllowedAttributes)
}
