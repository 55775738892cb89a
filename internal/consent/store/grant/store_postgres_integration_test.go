//go:build integration

package grant_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	authmodels "govid/internal/auth/models"
	"govid/internal/auth/store/identity"
	"govid/internal/consent/models"
	"govid/internal/consent/store/grant"
	"govid/pkg/domain"
	"govid/pkg/platform/sentinel"
	"govid/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres   *containers.PostgresContainer
	store      *grant.PostgresStore
	identities *identity.PostgresStore
	owner      *authmodels.Identity
	requester  *authmodels.Identity
	now        time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = grant.NewPostgres(s.postgres.DB)
	s.identities = identity.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "users", "consents"))
	s.now = time.Now().UTC().Truncate(time.Microsecond)

	s.owner = &authmodels.Identity{ID: domain.NewIdentityID(), ExternalID: "CIT-1", DisplayName: "Amina Citizen", Role: authmodels.RoleCitizen, Status: authmodels.StatusActive}
	s.requester = &authmodels.Identity{ID: domain.NewIdentityID(), ExternalID: "GOV-1", DisplayName: "Tax Office", Role: authmodels.RoleGovernment, Status: authmodels.StatusActive}
	s.Require().NoError(s.identities.Save(ctx, s.owner))
	s.Require().NoError(s.identities.Save(ctx, s.requester))
}

func (s *PostgresStoreSuite) newGrant(status models.Status, validUntil time.Time) *models.Grant {
	return &models.Grant{
		ID:                domain.NewConsentID(),
		OwnerID:           s.owner.ID,
		RequesterID:       s.requester.ID,
		Status:            status,
		AllowedAttributes: []string{"full_name", "address"},
		Purpose:           domain.PurposeServiceDelivery,
		ValidUntil:        validUntil,
		CreatedAt:         s.now,
		UpdatedAt:         s.now,
	}
}

func (s *PostgresStoreSuite) TestRoundTripsArrayColumn() {
	ctx := context.Background()
	g := s.newGrant(models.StatusActive, s.now.Add(time.Hour))
	s.Require().NoError(s.store.Create(ctx, g))

	found, err := s.store.FindActive(ctx, s.owner.ID, s.requester.ID)
	s.Require().NoError(err)
	s.Equal(g.ID, found.ID)
	s.Equal([]string{"full_name", "address"}, found.AllowedAttributes)
	s.Equal(domain.PurposeServiceDelivery, found.Purpose)
	s.True(g.ValidUntil.Equal(found.ValidUntil))
}

func (s *PostgresStoreSuite) TestActivePairIsUnique() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.newGrant(models.StatusActive, s.now.Add(time.Hour))))
	err := s.store.Create(ctx, s.newGrant(models.StatusActive, s.now.Add(time.Hour)))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestMarkExpired() {
	ctx := context.Background()
	g := s.newGrant(models.StatusActive, s.now.Add(-time.Minute))
	s.Require().NoError(s.store.Create(ctx, g))

	s.Require().NoError(s.store.MarkExpired(ctx, g.ID, s.now))
	s.Require().NoError(s.store.MarkExpired(ctx, g.ID, s.now.Add(time.Hour)))

	stored, err := s.store.FindByID(ctx, g.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, stored.Status)
	s.True(s.now.Equal(stored.UpdatedAt))

	revoked := s.newGrant(models.StatusRevoked, s.now.Add(-time.Minute))
	s.Require().NoError(s.store.Create(ctx, revoked))
	s.ErrorIs(s.store.MarkExpired(ctx, revoked.ID, s.now), sentinel.ErrNotFound)
}
