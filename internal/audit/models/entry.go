// Package models defines append-only audit entries.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
)

// Action is the closed set of audited operations.
type Action string

const (
	ActionDataAccess     Action = "DATA_ACCESS"
	ActionConsentRequest Action = "CONSENT_REQUEST"
	ActionAuditView      Action = "AUDIT_VIEW"
	ActionConsentExplain Action = "CONSENT_EXPLAIN"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionDataAccess, ActionConsentRequest, ActionAuditView, ActionConsentExplain:
		return true
	default:
		return false
	}
}

func (a Action) String() string { return string(a) }

// ParseAction validates a as an audit action.
func ParseAction(a string) (Action, error) {
	action := Action(a)
	if !action.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown audit action")
	}
	return action, nil
}

// Input is what a handler supplies after its action succeeded. The recorder
// fills in identity, time and digest.
type Input struct {
	ActorID            domain.IdentityID
	ActorRole          string
	TargetID           *domain.IdentityID
	Action             Action
	AccessedAttributes []string
	Purpose            domain.AccessPurpose
	Metadata           map[string]string
}

// Validate checks the fields an entry cannot be written without.
func (in Input) Validate() error {
	if in.ActorID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "audit entry requires an actor")
	}
	if in.ActorRole == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "audit entry requires an actor role")
	}
	if !in.Action.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown audit action: "+string(in.Action))
	}
	return nil
}

// Entry is one immutable audit record.
type Entry struct {
	ID        domain.AuditEntryID `json:"id"`
	ActorID   domain.IdentityID   `json:"actor_id"`
	ActorRole string              `json:"actor_role"`
	TargetID  *domain.IdentityID  `json:"target_id"`
	Action    Action              `json:"action"`
	// AccessedAttributes is nil when the action released no attributes.
	AccessedAttributes []string             `json:"accessed_attributes"`
	Purpose            domain.AccessPurpose `json:"purpose,omitempty"`
	Metadata           map[string]string    `json:"metadata"`
	RequestID          string               `json:"request_id,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	Digest             string               `json:"digest"`
}

// NewEntry builds an entry from in, stamped with createdAt.
func NewEntry(in Input, requestID string, createdAt time.Time) *Entry {
	e := &Entry{
		ID:                 domain.NewAuditEntryID(),
		ActorID:            in.ActorID,
		ActorRole:          in.ActorRole,
		TargetID:           in.TargetID,
		Action:             in.Action,
		AccessedAttributes: in.AccessedAttributes,
		Purpose:            in.Purpose,
		Metadata:           in.Metadata,
		RequestID:          requestID,
		CreatedAt:          createdAt.UTC(),
	}
	e.Digest = e.ComputeDigest()
	return e
}

// canonicalEntry fixes field order and time format for hashing.
type canonicalEntry struct {
	ID                 string            `json:"id"`
	ActorID            string            `json:"actor_id"`
	ActorRole          string            `json:"actor_role"`
	TargetID           string            `json:"target_id"`
	Action             string            `json:"action"`
	AccessedAttributes []string          `json:"accessed_attributes"`
	Purpose            string            `json:"purpose"`
	Metadata           map[string]string `json:"metadata"`
	RequestID          string            `json:"request_id"`
	CreatedAt          string            `json:"created_at"`
}

// ComputeDigest returns the hex SHA-256 of the entry's canonical JSON form,
// excluding the digest itself. encoding/json sorts map keys, so metadata
// hashes the same regardless of insertion order.
func (e *Entry) ComputeDigest() string {
	c := canonicalEntry{
		ID:                 e.ID.String(),
		ActorID:            e.ActorID.String(),
		ActorRole:          e.ActorRole,
		Action:             string(e.Action),
		AccessedAttributes: e.AccessedAttributes,
		Purpose:            string(e.Purpose),
		Metadata:           e.Metadata,
		RequestID:          e.RequestID,
		CreatedAt:          e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.TargetID != nil {
		c.TargetID = e.TargetID.String()
	}
	// Marshal cannot fail for this struct.
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the stored digest still matches the entry.
func (e *Entry) Verify() bool {
	return e.Digest == e.ComputeDigest()
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Filter narrows an audit listing. Zero values match everything.
type Filter struct {
	ActorID  *domain.IdentityID
	TargetID *domain.IdentityID
	Action   Action
	Limit    int
}

// Normalize clamps Limit into [1, MaxListLimit], defaulting to DefaultListLimit.
func (f Filter) Normalize() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return f
}

// Matches reports whether e satisfies the filter.
func (f Filter) Matches(e *Entry) bool {
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.TargetID != nil && (e.TargetID == nil || *e.TargetID != *f.TargetID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	return true
}
