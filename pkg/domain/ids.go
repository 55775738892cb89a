// Package domain holds the typed identifiers and small value types shared by
// every module. Typed IDs keep an identity ID from being passed where a consent
// ID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "govid/pkg/domain-errors"
)

// IdentityID is the internal identifier of a citizen or organization.
type IdentityID uuid.UUID

// ConsentID identifies a consent grant.
type ConsentID uuid.UUID

// AuditEntryID identifies an audit log entry.
type AuditEntryID uuid.UUID

func NewIdentityID() IdentityID     { return IdentityID(uuid.New()) }
func NewConsentID() ConsentID       { return ConsentID(uuid.New()) }
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

// ParseIdentityID parses an identity ID at a trust boundary.
// Returns CodeInvalidInput for empty, malformed, or nil UUIDs.
func ParseIdentityID(s string) (IdentityID, error) {
	return parseID[IdentityID](s, "identity ID")
}

// ParseConsentID parses a consent ID at a trust boundary.
func ParseConsentID(s string) (ConsentID, error) {
	return parseID[ConsentID](s, "consent ID")
}

// ParseAuditEntryID parses an audit entry ID at a trust boundary.
func ParseAuditEntryID(s string) (AuditEntryID, error) {
	return parseID[AuditEntryID](s, "audit entry ID")
}

func parseID[T ~[16]byte](s, kind string) (T, error) {
	var zero T
	if s == "" {
		return zero, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return zero, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return zero, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return T(u), nil
}

func (id IdentityID) String() string   { return uuid.UUID(id).String() }
func (id ConsentID) String() string    { return uuid.UUID(id).String() }
func (id AuditEntryID) String() string { return uuid.UUID(id).String() }

func (id IdentityID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AuditEntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id IdentityID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id ConsentID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id AuditEntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *IdentityID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ConsentID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AuditEntryID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
