package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"govid/internal/auth/models"
	"govid/pkg/domain"
	"govid/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore reads identities and sessions from the users and sessions tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `u.id, u.external_id, u.display_name, u.role, u.status`

// FindBySessionToken resolves session and identity in one joined query so a
// request costs a single round trip.
func (s *PostgresStore) FindBySessionToken(ctx context.Context, token string, now time.Time) (*models.Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1 AND s.expires_at > $2
	`
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, token, now))
	if err != nil {
		return nil, fmt.Errorf("find identity by session: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM users u WHERE u.external_id = $1`
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, externalID))
	if err != nil {
		return nil, fmt.Errorf("find identity by external id: %w", err)
	}
	return identity, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.IdentityID) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM users u WHERE u.id = $1`
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		return nil, fmt.Errorf("find identity by id: %w", err)
	}
	return identity, nil
}

// Save inserts an identity, or updates its mutable fields when the ID exists.
func (s *PostgresStore) Save(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO users (id, external_id, display_name, role, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			status = EXCLUDED.status
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(identity.ID), identity.ExternalID, identity.DisplayName,
		string(identity.Role), string(identity.Status))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("save identity: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.ExecContext(ctx, query, session.Token, uuid.UUID(session.IdentityID), session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func scanIdentity(row *sql.Row) (*models.Identity, error) {
	var (
		id       uuid.UUID
		identity models.Identity
		role     string
		status   string
	)
	if err := row.Scan(&id, &identity.ExternalID, &identity.DisplayName, &role, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	identity.ID = domain.IdentityID(id)
	identity.Role = models.Role(role)
	identity.Status = models.Status(status)
	return &identity, nil
}
