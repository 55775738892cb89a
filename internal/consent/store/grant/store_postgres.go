package grant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"govid/internal/consent/models"
	"govid/pkg/domain"
	"govid/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists grants in the consents table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const grantColumns = `id, owner_id, requester_id, status, allowed_attributes, purpose, valid_until, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, g *models.Grant) error {
	query := `
		INSERT INTO consents (` + grantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(g.ID), uuid.UUID(g.OwnerID), uuid.UUID(g.RequesterID), string(g.Status),
		pq.Array(g.AllowedAttributes), nullablePurpose(g.Purpose),
		g.ValidUntil, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("create consent: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindActive(ctx context.Context, ownerID, requesterID domain.IdentityID) (*models.Grant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM consents
		WHERE owner_id = $1 AND requester_id = $2 AND status = 'active'
	`
	g, err := scanGrant(s.db.QueryRowContext(ctx, query, uuid.UUID(ownerID), uuid.UUID(requesterID)))
	if err != nil {
		return nil, fmt.Errorf("find active consent: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.ConsentID) (*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM consents WHERE id = $1`
	g, err := scanGrant(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return g, nil
}

// MarkExpired is safe to race: the row matches whether or not another request
// already expired it, and updated_at only moves on the first transition.
func (s *PostgresStore) MarkExpired(ctx context.Context, id domain.ConsentID, now time.Time) error {
	query := `
		UPDATE consents
		SET updated_at = CASE WHEN status = 'active' THEN $2 ELSE updated_at END,
			status = 'expired'
		WHERE id = $1 AND status IN ('active', 'expired')
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(id), now)
	if err != nil {
		return fmt.Errorf("mark consent expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark consent expired: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark consent expired: %w", sentinel.ErrNotFound)
	}
	return nil
}

func scanGrant(row *sql.Row) (*models.Grant, error) {
	var (
		id, owner, requester uuid.UUID
		status               string
		purpose              sql.NullString
		g                    models.Grant
	)
	err := row.Scan(&id, &owner, &requester, &status, pq.Array(&g.AllowedAttributes),
		&purpose, &g.ValidUntil, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	g.ID = domain.ConsentID(id)
	g.OwnerID = domain.IdentityID(owner)
	g.RequesterID = domain.IdentityID(requester)
	g.Status = models.Status(status)
	g.Purpose = domain.AccessPurpose(purpose.String)
	return &g, nil
}

func nullablePurpose(p domain.AccessPurpose) sql.NullString {
	return sql.NullString{String: string(p), Valid: p != ""}
}
