// Package token issues and verifies HS256 session tokens. A signed token is
// still looked up in the session store; the signature check only rejects
// forged or stale tokens before that lookup.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "govid/pkg/domain-errors"
)

const issuer = "govid"

// Claims carries the subject's external ID.
type Claims struct {
	ExternalID string `json:"ext"`
	jwt.RegisteredClaims
}

// Service signs and verifies session tokens with a shared HMAC key.
type Service struct {
	signingKey []byte
	now        func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(signingKey string, opts ...Option) *Service {
	s := &Service{signingKey: []byte(signingKey), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue returns a signed token for externalID valid for ttl.
func (s *Service) Issue(externalID string, ttl time.Duration) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ExternalID: externalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   externalID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	signed, err := t.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks the signature, algorithm, issuer and expiry of raw.
func (s *Service) Verify(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "session token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	return claims, nil
}
