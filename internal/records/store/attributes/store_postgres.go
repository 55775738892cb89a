package attributes

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"govid/pkg/domain"
)

// PostgresStore reads identity_attributes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, id domain.IdentityID, name, value string) error {
	query := `
		INSERT INTO identity_attributes (identity_id, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_id, name) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := s.db.ExecContext(ctx, query, uuid.UUID(id), name, value); err != nil {
		return fmt.Errorf("put attribute: %w", err)
	}
	return nil
}

// Values fetches only the named attributes; nothing outside names leaves the
// database.
func (s *PostgresStore) Values(ctx context.Context, id domain.IdentityID, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	if len(names) == 0 {
		return out, nil
	}
	query := `SELECT name, value FROM identity_attributes WHERE identity_id = $1 AND name = ANY($2)`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(id), pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}
	return out, nil
}
