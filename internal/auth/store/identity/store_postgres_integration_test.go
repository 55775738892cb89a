//go:build integration

package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"govid/internal/auth/models"
	"govid/internal/auth/store/identity"
	"govid/pkg/domain"
	"govid/pkg/platform/sentinel"
	"govid/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *identity.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = identity.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "users", "sessions"))
}

func (s *PostgresStoreSuite) TestJoinedSessionLookup() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	citizen := &models.Identity{
		ID: domain.NewIdentityID(), ExternalID: "CIT-1", DisplayName: "Amina Citizen",
		Role: models.RoleCitizen, Status: models.StatusSuspended,
	}
	s.Require().NoError(s.store.Save(ctx, citizen))
	s.Require().NoError(s.store.SaveSession(ctx, &models.Session{Token: "tok-live", IdentityID: citizen.ID, ExpiresAt: now.Add(time.Hour)}))
	s.Require().NoError(s.store.SaveSession(ctx, &models.Session{Token: "tok-old", IdentityID: citizen.ID, ExpiresAt: now.Add(-time.Minute)}))

	s.Run("live session returns identity with status", func() {
		found, err := s.store.FindBySessionToken(ctx, "tok-live", now)
		s.Require().NoError(err)
		s.Equal(citizen.ID, found.ID)
		s.Equal(models.StatusSuspended, found.Status)
	})

	s.Run("expired session is not found", func() {
		_, err := s.store.FindBySessionToken(ctx, "tok-old", now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("lookup by external id", func() {
		found, err := s.store.FindByExternalID(ctx, "CIT-1")
		s.Require().NoError(err)
		s.Equal(citizen.DisplayName, found.DisplayName)
	})
}

func (s *PostgresStoreSuite) TestDuplicateExternalIDConflicts() {
	ctx := context.Background()
	first := &models.Identity{ID: domain.NewIdentityID(), ExternalID: "GOV-1", DisplayName: "Ministry", Role: models.RoleGovernment, Status: models.StatusActive}
	s.Require().NoError(s.store.Save(ctx, first))

	second := *first
	second.ID = domain.NewIdentityID()
	s.ErrorIs(s.store.Save(ctx, &second), sentinel.ErrConflict)
}
