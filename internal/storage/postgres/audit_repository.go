package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository создаёт PostgreSQL-реализацию AuditRepository.
func NewAuditRepository(store *Store) domain.AuditRepository {
	return &auditRepository{db: store.DB()}
}

func (r *auditRepository) Append(record domain.AuditRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	details := record.Details
	if details == "" {
		details = "{}"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, action, actor, details, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`,
		record.EntityType, record.EntityID, record.Action,
		record.Actor, details, record.Occurred,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return nil
}

func (r *auditRepository) List(entityType, entityID string) ([]domain.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, action, actor, details, occurred_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at ASC, id ASC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AuditRecord, 0)
	for rows.Next() {
		var record domain.AuditRecord
		if err := rows.Scan(
			&record.EntityType, &record.EntityID, &record.Action,
			&record.Actor, &record.Details, &record.Occurred,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return result, nil
}

var _ domain.AuditRepository = (*auditRepository)(nil)
