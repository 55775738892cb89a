package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	authmodels "govid/internal/auth/models"
	"govid/internal/auth/store/identity"
	"govid/internal/consent/metrics"
	"govid/internal/consent/models"
	"govid/internal/consent/service/mocks"
	"govid/internal/consent/store/grant"
	"govid/pkg/domain"
	dErrors "govid/pkg/domain-errors"
	"govid/pkg/platform/sentinel"
	"govid/pkg/requestcontext"
)

type AuthorizerSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	grants     *mocks.MockStore
	identities *mocks.MockIdentityLookup
	metrics    *metrics.Metrics
	authz      *Authorizer
	now        time.Time
	ctx        context.Context

	citizen *authmodels.Identity
	gov     authmodels.Principal
}

func TestAuthorizerSuite(t *testing.T) {
	suite.Run(t, new(AuthorizerSuite))
}

func (s *AuthorizerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.grants = mocks.NewMockStore(s.ctrl)
	s.identities = mocks.NewMockIdentityLookup(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.authz = NewAuthorizer(s.grants, s.identities, WithMetrics(s.metrics))
	s.now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	s.citizen = &authmodels.Identity{
		ID: domain.NewIdentityID(), ExternalID: "CIT-1", DisplayName: "Amina Citizen",
		Role: authmodels.RoleCitizen, Status: authmodels.StatusActive,
	}
	s.gov = authmodels.Principal{
		ID: domain.NewIdentityID(), ExternalID: "GOV-1", DisplayName: "Tax Office",
		Role: authmodels.RoleGovernment, Token: "gov-token",
	}
}

func (s *AuthorizerSuite) grant(allowed []string, validUntil time.Time) *models.Grant {
	return &models.Grant{
		ID:                domain.NewConsentID(),
		OwnerID:           s.citizen.ID,
		RequesterID:       s.gov.ID,
		Status:            models.StatusActive,
		AllowedAttributes: allowed,
		Purpose:           domain.PurposeServiceDelivery,
		ValidUntil:        validUntil,
	}
}

func (s *AuthorizerSuite) TestSelfAccessSkipsConsentLookup() {
	self := authmodels.PrincipalFor(s.citizen, "cit-token")

	d, err := s.authz.Authorize(s.ctx, self, "CIT-1", []string{"address", "full_name"})
	s.Require().NoError(err)
	s.True(d.SelfAccess)
	s.Nil(d.ConsentID)
	s.Equal(s.citizen.ID, d.TargetID)
	s.Equal([]string{"address", "full_name"}, d.Granted)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues(outcomeSelf)))
}

func (s *AuthorizerSuite) TestOrganizationWithSameExternalIDIsNotSelf() {
	org := s.gov
	org.ExternalID = "CIT-1"
	s.identities.EXPECT().FindByExternalID(gomock.Any(), "CIT-1").Return(s.citizen, nil)
	s.grants.EXPECT().FindActive(gomock.Any(), s.citizen.ID, org.ID).Return(nil, sentinel.ErrNotFound)

	_, err := s.authz.Authorize(s.ctx, org, "CIT-1", []string{"address"})
	s.True(dErrors.HasCode(err, dErrors.CodeNoConsent))
}

func (s *AuthorizerSuite) TestUnknownTargetLooksLikeMissingConsent() {
	s.identities.EXPECT().FindByExternalID(gomock.Any(), "CIT-404").Return(nil, sentinel.ErrNotFound)

	_, err := s.authz.Authorize(s.ctx, s.gov, "CIT-404", []string{"address"})
	s.True(dErrors.HasCode(err, dErrors.CodeNoConsent))
}

func (s *AuthorizerSuite) TestNoActiveGrant() {
	s.identities.EXPECT().FindByExternalID(gomock.Any(), "CIT-1").Return(s.citizen, nil)
	s.grants.EXPECT().FindActive(gomock.Any(), s.citizen.ID, s.gov.ID).Return(nil, sentinel.ErrNotFound)

	_, err := s.authz.Authorize(s.ctx, s.gov, "CIT-1", []string{"address"})
	s.True(dErrors.HasCode(err, dErrors.CodeNoConsent))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues(outcomeNoConsent)))
}

func (s *AuthorizerSuite) TestGrantedIsIntersectionInRequestOrder() {
	g := s.grant([]string{"B", "C", "D"}, s.now.Add(time.Hour))
	s.identities.EXPECT().FindByExternalID(gomock.Any(), "CIT-1").Return(s.citizen, nil)
	s.grants.EXPECT().FindActive(gomock.Any(), s.citizen.ID, s.gov.ID).Return(g, nil)

	d, err := s.authz.Authorize(s.ctx, s.gov, "CIT-1", []string{"C", "A", "B", "C"})
	s.Require().NoError(err)
	s.Equal([]string{"C", "B"}, d.Granted)
	s.NotContains(d.Granted, "D")
	s.Require().NotNil(d.ConsentID)
	s.Equal(g.ID, *d.ConsentID)
	s.Equal(domain.PurposeServiceDelivery, d.Purpose)
	s.False(d.SelfAccess)
}

func (s *AuthorizerSuite) TestNoMatchingScope() {
	g := s.grant([]string{"full_name"}, s.now.Add(time.Hour))
	s.identities.EXPECT().FindByExternalID(gomock.Any(), "CIT-1").Return(s.citizen, nil)
	s.grants.EXPECT().FindActive(gomock.Any(), s.citizen.ID, s.gov.ID).Return(g, nil)

	_, err := s.authz.Authorize(s.ctx, s.gov, "CIT-1", []string{"Full_Name", "medical_history"})
	s.True(dErrors.HasCode(err, dErrors.CodeNoMatchingScope))
}

func (s *AuthorizerSuite) TestLapsedGrantIsMarkedExpiredBeforeScopeCheck() {
	g := s.grant([]string{"full_name"}, s.now.Add(-time.Second))
	s.identities.EXPECT().FindByExternalID(gomock.Any(), "CIT-1").Return(s.citizen, nil)
	s.grants.EXPECT().FindActive(gomock.Any(), s.citizen.ID, s.gov.ID).Return(g, nil)
	s.grants.EXPECT().MarkExpired(gomock.Any(), g.ID, s.now).Return(nil)

	// The request covers nothing the grant allows; expiry must win.
	_, err := s.authz.Authorize(s.ctx, s.gov, "CIT-1", []string{"medical_history"})
	s.True(dErrors.HasCode(err, dErrors.CodeConsentExpired))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.LazyExpiries))
}

func (s *AuthorizerSuite) TestGrantValidAtExactBoundary() {
	g := s.grant([]string{"full_name"}, s.now)
	s.identities.EXPECT().FindByExternalID(gomock.Any(), "CIT-1").Return(s.citizen, nil)
	s.grants.EXPECT().FindActive(gomock.Any(), s.citizen.ID, s.gov.ID).Return(g, nil)

	d, err := s.authz.Authorize(s.ctx, s.gov, "CIT-1", []string{"full_name"})
	s.Require().NoError(err)
	s.Equal([]string{"full_name"}, d.Granted)
}

func (s *AuthorizerSuite) TestExpiryWriteFailureStillRefuses() {
	g := s.grant([]string{"full_name"}, s.now.Add(-time.Hour))
	s.identities.EXPECT().FindByExternalID(gomock.Any(), "CIT-1").Return(s.citizen, nil)
	s.grants.EXPECT().FindActive(gomock.Any(), s.citizen.ID, s.gov.ID).Return(g, nil)
	s.grants.EXPECT().MarkExpired(gomock.Any(), g.ID, s.now).Return(errors.New("connection reset"))

	_, err := s.authz.Authorize(s.ctx, s.gov, "CIT-1", []string{"full_name"})
	s.True(dErrors.HasCode(err, dErrors.CodeConsentExpired))
}

func (s *AuthorizerSuite) TestStoreFailureIsInternal() {
	s.identities.EXPECT().FindByExternalID(gomock.Any(), "CIT-1").Return(s.citizen, nil)
	s.grants.EXPECT().FindActive(gomock.Any(), s.citizen.ID, s.gov.ID).Return(nil, errors.New("connection refused"))

	_, err := s.authz.Authorize(s.ctx, s.gov, "CIT-1", []string{"full_name"})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues(outcomeError)))
}

// TestLazyExpiryPersists runs against the in-memory stores: the second access
// sees no active grant because the first one persisted the expiry.
func TestLazyExpiryPersists(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	identities := identity.NewInMemory()
	citizen := &authmodels.Identity{ID: domain.NewIdentityID(), ExternalID: "CIT-1", Role: authmodels.RoleCitizen, Status: authmodels.StatusActive}
	gov := &authmodels.Identity{ID: domain.NewIdentityID(), ExternalID: "GOV-1", Role: authmodels.RoleGovernment, Status: authmodels.StatusActive}
	require.NoError(t, identities.Save(ctx, citizen))
	require.NoError(t, identities.Save(ctx, gov))

	grants := grant.NewInMemory()
	g := &models.Grant{
		ID: domain.NewConsentID(), OwnerID: citizen.ID, RequesterID: gov.ID,
		Status: models.StatusActive, AllowedAttributes: []string{"full_name"},
		ValidUntil: now.Add(-time.Minute),
	}
	require.NoError(t, grants.Create(ctx, g))

	authz := NewAuthorizer(grants, identities)
	principal := authmodels.PrincipalFor(gov, "tok")

	_, err := authz.Authorize(ctx, principal, "CIT-1", []string{"full_name"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConsentExpired), "first access: %v", err)

	stored, err := grants.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)

	_, err = authz.Authorize(ctx, principal, "CIT-1", []string{"full_name"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNoConsent), "second access: %v", err)
}
