package entry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"govid/internal/audit/models"
	"govid/pkg/domain"
)

// PostgresStore appends to audit_logs. A trigger on the table rejects UPDATE
// and DELETE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, e *models.Entry) error {
	attrs, err := nullableJSON(e.AccessedAttributes, e.AccessedAttributes == nil)
	if err != nil {
		return fmt.Errorf("marshal accessed attributes: %w", err)
	}
	meta, err := nullableJSON(e.Metadata, e.Metadata == nil)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, actor_id, actor_role, target_id, action, accessed_attributes,
			purpose, metadata, request_id, digest, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(e.ID), uuid.UUID(e.ActorID), e.ActorRole, nullableID(e.TargetID),
		string(e.Action), attrs, nullableString(string(e.Purpose)), meta,
		nullableString(e.RequestID), e.Digest, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns matching entries newest first.
func (s *PostgresStore) List(ctx context.Context, filter models.Filter) ([]*models.Entry, error) {
	filter = filter.Normalize()

	var (
		where []string
		args  []any
	)
	if filter.ActorID != nil {
		args = append(args, uuid.UUID(*filter.ActorID))
		where = append(where, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if filter.TargetID != nil {
		args = append(args, uuid.UUID(*filter.TargetID))
		where = append(where, fmt.Sprintf("target_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}

	query := `
		SELECT id, actor_id, actor_role, target_id, action, accessed_attributes,
			purpose, metadata, request_id, digest, created_at
		FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (*models.Entry, error) {
	var (
		id, actor          uuid.UUID
		target             uuid.NullUUID
		action             string
		attrs, meta        []byte
		purpose, requestID sql.NullString
		e                  models.Entry
	)
	if err := rows.Scan(&id, &actor, &e.ActorRole, &target, &action, &attrs,
		&purpose, &meta, &requestID, &e.Digest, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ID = domain.AuditEntryID(id)
	e.ActorID = domain.IdentityID(actor)
	if target.Valid {
		t := domain.IdentityID(target.UUID)
		e.TargetID = &t
	}
	e.Action = models.Action(action)
	e.Purpose = domain.AccessPurpose(purpose.String)
	e.RequestID = requestID.String
	if attrs != nil {
		if err := json.Unmarshal(attrs, &e.AccessedAttributes); err != nil {
			return nil, err
		}
	}
	if meta != nil {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, err
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// nullableJSON encodes v for a jsonb column. lib/pq sends []byte as bytea, so
// the document goes over the wire as text.
func nullableJSON(v any, isNull bool) (any, error) {
	if isNull {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableID(id *domain.IdentityID) any {
	if id == nil {
		return nil
	}
	return uuid.UUID(*id)
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
