package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/riteshkumar/banking-core/internal/models"
)

type AuditRepository interface {
	Create(ctx context.Context, tx DBTX, log *models.AuditLog) error
	GetByEntityID(ctx context.Context, entityType string, entityID int64) ([]*models.AuditLog, error)
}

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

const auditColumns = `id, entity_type, entity_id, action, actor_id, old_value, new_value, created_at`

func scanAuditLog(row interface{ Scan(...any) error }) (*models.AuditLog, error) {
	entry := &models.AuditLog{}
	var (
		actorID            sql.NullInt64
		oldValue, newValue []byte
	)
	if err := row.Scan(&entry.ID, &entry.EntityType, &entry.EntityID, &entry.Action,
		&actorID, &oldValue, &newValue, &entry.CreatedAt); err != nil {
		return nil, err
	}
	if actorID.Valid {
		entry.ActorID = &actorID.Int64
	}
	if oldValue != nil {
		entry.OldValue = json.RawMessage(oldValue)
	}
	entry.NewValue = json.RawMessage(newValue)
	return entry, nil
}

// Create writes an audit entry through tx so it commits or rolls back with
// the change it records.
func (r *PostgresAuditRepository) Create(ctx context.Context, tx DBTX, entry *models.AuditLog) error {
	// old_value stays NULL for CREATE entries
	var before any
	if entry.OldValue != nil {
		before = []byte(entry.OldValue)
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO audit_logs (entity_type, entity_id, action, actor_id, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		RETURNING id, created_at`,
		entry.EntityType, entry.EntityID, entry.Action, entry.ActorID, before, []byte(entry.NewValue),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// GetByEntityID returns the trail for one entity, newest first.
func (r *PostgresAuditRepository) GetByEntityID(ctx context.Context, entityType string, entityID int64) ([]*models.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC`,
		entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail for %s %d: %w", entityType, entityID, err)
	}
	defer rows.Close()

	var trail []*models.AuditLog
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		trail = append(trail, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over audit logs: %w", err)
	}
	return trail, nil
}
