// Package seed loads the demo identities, sessions, grants and attribute
// values used for local runs and router tests.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	authmodels "govid/internal/auth/models"
	consentmodels "govid/internal/consent/models"
	"govid/pkg/domain"
)

type IdentityStore interface {
	Save(ctx context.Context, identity *authmodels.Identity) error
	SaveSession(ctx context.Context, session *authmodels.Session) error
}

type GrantStore interface {
	Create(ctx context.Context, g *consentmodels.Grant) error
}

type AttributeStore interface {
	Put(ctx context.Context, id domain.IdentityID, name, value string) error
}

// TokenIssuer mints signed session tokens. Without one, demo tokens are
// opaque strings derived from the external ID.
type TokenIssuer interface {
	Issue(externalID string, ttl time.Duration) (string, time.Time, error)
}

// Stores groups the writers Load fills.
type Stores struct {
	Identities IdentityStore
	Grants     GrantStore
	Attributes AttributeStore
}

// Fixtures indexes what Load created by external ID.
type Fixtures struct {
	Identities map[string]*authmodels.Identity
	Tokens     map[string]string
	// Grants is keyed "OWNER->REQUESTER".
	Grants map[string]*consentmodels.Grant
}

// Token returns the bearer token of externalID.
func (f *Fixtures) Token(externalID string) string { return f.Tokens[externalID] }

// Grant returns the seeded grant from owner to requester.
func (f *Fixtures) Grant(owner, requester string) *consentmodels.Grant {
	return f.Grants[owner+"->"+requester]
}

const DefaultSessionTTL = 24 * time.Hour

type loader struct {
	issuer     TokenIssuer
	sessionTTL time.Duration
	logger     *slog.Logger
}

type Option func(*loader)

func WithTokenIssuer(i TokenIssuer) Option {
	return func(l *loader) { l.issuer = i }
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(l *loader) {
		if ttl > 0 {
			l.sessionTTL = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *loader) { l.logger = logger }
}

type identitySeed struct {
	externalID string
	name       string
	role       authmodels.Role
	status     authmodels.Status
}

var identities = []identitySeed{
	{"CIT-1", "Amina Okafor", authmodels.RoleCitizen, authmodels.StatusActive},
	{"CIT-2", "Tomas Lindqvist", authmodels.RoleCitizen, authmodels.StatusSuspended},
	{"GOV-1", "Ministry of Health", authmodels.RoleGovernment, authmodels.StatusActive},
	{"SP-1", "Northwind Bank", authmodels.RoleServiceProvider, authmodels.StatusActive},
	{"REG-1", "Data Protection Office", authmodels.RoleRegulatoryAuthority, authmodels.StatusActive},
}

var attributeValues = map[string]map[string]string{
	"CIT-1": {
		"full_name":     "Amina Okafor",
		"date_of_birth": "1988-06-14",
		"email":         "amina.okafor@example.org",
		"address":       "12 Harbour Road, Lagos",
		"blood_group":   "O+",
		"allergies":     "penicillin",
	},
	"CIT-2": {
		"full_name":   "Tomas Lindqvist",
		"blood_group": "A-",
	},
}

type grantSeed struct {
	owner, requester string
	attributes       []string
	purpose          domain.AccessPurpose
	// validFor is relative to the load time; negative seeds a lapsed grant
	// that is still stored as active.
	validFor time.Duration
	age      time.Duration
}

var grants = []grantSeed{
	{"CIT-1", "GOV-1", []string{"blood_group", "allergies"}, domain.PurposeServiceDelivery, 30 * 24 * time.Hour, 10 * 24 * time.Hour},
	{"CIT-1", "SP-1", []string{"full_name", "email"}, domain.PurposeEligibilityCheck, -24 * time.Hour, 60 * 24 * time.Hour},
}

// Load writes the demo data set as of now.
func Load(ctx context.Context, stores Stores, now time.Time, opts ...Option) (*Fixtures, error) {
	l := &loader{sessionTTL: DefaultSessionTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}

	f := &Fixtures{
		Identities: make(map[string]*authmodels.Identity, len(identities)),
		Tokens:     make(map[string]string, len(identities)),
		Grants:     make(map[string]*consentmodels.Grant, len(grants)),
	}

	for _, s := range identities {
		identity := &authmodels.Identity{
			ID:          domain.NewIdentityID(),
			ExternalID:  s.externalID,
			DisplayName: s.name,
			Role:        s.role,
			Status:      s.status,
		}
		if err := stores.Identities.Save(ctx, identity); err != nil {
			return nil, fmt.Errorf("seed identity %s: %w", s.externalID, err)
		}
		token, expiresAt, err := l.token(s.externalID, now)
		if err != nil {
			return nil, fmt.Errorf("seed token %s: %w", s.externalID, err)
		}
		session := &authmodels.Session{Token: token, IdentityID: identity.ID, ExpiresAt: expiresAt}
		if err := stores.Identities.SaveSession(ctx, session); err != nil {
			return nil, fmt.Errorf("seed session %s: %w", s.externalID, err)
		}
		f.Identities[s.externalID] = identity
		f.Tokens[s.externalID] = token
	}

	for externalID, values := range attributeValues {
		owner := f.Identities[externalID]
		for name, value := range values {
			if err := stores.Attributes.Put(ctx, owner.ID, name, value); err != nil {
				return nil, fmt.Errorf("seed attribute %s/%s: %w", externalID, name, err)
			}
		}
	}

	for _, s := range grants {
		created := now.Add(-s.age)
		g := &consentmodels.Grant{
			ID:                domain.NewConsentID(),
			OwnerID:           f.Identities[s.owner].ID,
			RequesterID:       f.Identities[s.requester].ID,
			Status:            consentmodels.StatusActive,
			AllowedAttributes: s.attributes,
			Purpose:           s.purpose,
			ValidUntil:        now.Add(s.validFor),
			CreatedAt:         created,
			UpdatedAt:         created,
		}
		if err := stores.Grants.Create(ctx, g); err != nil {
			return nil, fmt.Errorf("seed grant %s->%s: %w", s.owner, s.requester, err)
		}
		f.Grants[s.owner+"->"+s.requester] = g
	}

	l.logger.InfoContext(ctx, "demo data loaded",
		"identities", len(f.Identities),
		"grants", len(f.Grants),
	)
	return f, nil
}

func (l *loader) token(externalID string, now time.Time) (string, time.Time, error) {
	if l.issuer != nil {
		return l.issuer.Issue(externalID, l.sessionTTL)
	}
	return "demo-" + strings.ToLower(externalID), now.Add(l.sessionTTL), nil
}
