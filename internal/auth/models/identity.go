// Package models defines identities, sessions and the authenticated principal.
package models

import (
	"time"

	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
)

// Role is the closed set of actor kinds. Every capability check switches over
// it, so adding a role means revisiting each gate below.
type Role string

const (
	RoleCitizen             Role = "citizen"
	RoleServiceProvider     Role = "service_provider"
	RoleGovernment          Role = "government"
	RoleRegulatoryAuthority Role = "regulatory_authority"
)

// AllRoles lists every valid role.
var AllRoles = []Role{RoleCitizen, RoleServiceProvider, RoleGovernment, RoleRegulatoryAuthority}

// ParseRole validates external input.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

func (r Role) IsValid() bool {
	switch r {
	case RoleCitizen, RoleServiceProvider, RoleGovernment, RoleRegulatoryAuthority:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// OwnsPersonalData reports whether identities with this role are data subjects
// whose attributes are protected by consent.
func (r Role) OwnsPersonalData() bool {
	switch r {
	case RoleCitizen:
		return true
	case RoleServiceProvider, RoleGovernment, RoleRegulatoryAuthority:
		return false
	default:
		return false
	}
}

// CanRequestConsent reports whether the role may ask citizens for grants.
func (r Role) CanRequestConsent() bool {
	switch r {
	case RoleServiceProvider, RoleGovernment:
		return true
	case RoleCitizen, RoleRegulatoryAuthority:
		return false
	default:
		return false
	}
}

// CanViewAudit reports whether the role may read other actors' audit trails.
func (r Role) CanViewAudit() bool {
	switch r {
	case RoleRegulatoryAuthority:
		return true
	case RoleCitizen, RoleServiceProvider, RoleGovernment:
		return false
	default:
		return false
	}
}

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Identity is a citizen or organization known to the platform. The access
// subsystem only reads identities.
type Identity struct {
	ID          domain.IdentityID
	ExternalID  string
	DisplayName string
	Role        Role
	Status      Status
}

func (i *Identity) IsActive() bool {
	return i.Status == StatusActive
}

// Session binds an opaque bearer token to an identity until ExpiresAt.
type Session struct {
	Token      string
	IdentityID domain.IdentityID
	ExpiresAt  time.Time
}

// IsValidAt reports whether the session is still live at now. A session is
// valid strictly before its expiry.
func (s *Session) IsValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Principal is the authenticated caller for the rest of a request. It is a
// value type so later stages cannot mutate it.
type Principal struct {
	ID          domain.IdentityID
	ExternalID  string
	DisplayName string
	Role        Role
	Token       string
}

// PrincipalFor builds the principal for an identity authenticated with token.
func PrincipalFor(i *Identity, token string) Principal {
	return Principal{
		ID:          i.ID,
		ExternalID:  i.ExternalID,
		DisplayName: i.DisplayName,
		Role:        i.Role,
		Token:       token,
	}
}

// HasRole reports whether the principal's role is one of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
