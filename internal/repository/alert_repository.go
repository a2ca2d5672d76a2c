package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/models"
)

type AlertRepository interface {
	Create(ctx context.Context, tx DBTX, alert *models.FraudAlert) error
	GetByID(ctx context.Context, id int64) (*models.FraudAlert, error)
	GetByTransactionID(ctx context.Context, tx DBTX, transactionID int64) (*models.FraudAlert, error)
	AppendDescription(ctx context.Context, tx DBTX, id int64, text string) error
	RaiseRiskScore(ctx context.Context, tx DBTX, id int64, score int) error
	UpdateStatus(ctx context.Context, tx DBTX, alert *models.FraudAlert, expected models.AlertStatus) error
	List(ctx context.Context, q models.ListAlertsQuery) ([]*models.FraudAlert, int, error)
}

type PostgresAlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) *PostgresAlertRepository {
	return &PostgresAlertRepository{db: db}
}

const alertColumns = `id, user_id, transaction_id, description, status, risk_score, source,
	resolution, resolved_by, created_at, resolved_at`

func scanAlert(row interface{ Scan(...any) error }) (*models.FraudAlert, error) {
	alert := &models.FraudAlert{}
	var (
		resolution sql.NullString
		resolvedBy sql.NullInt64
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&alert.ID,
		&alert.UserID,
		&alert.TransactionID,
		&alert.Description,
		&alert.Status,
		&alert.RiskScore,
		&alert.Source,
		&resolution,
		&resolvedBy,
		&alert.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolution.Valid {
		alert.Resolution = &resolution.String
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = &resolvedBy.Int64
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	return alert, nil
}

// Create inserts a new alert. The unique index on transaction_id turns a
// second alert for the same transaction into errors.ErrDuplicateAlert.
func (r *PostgresAlertRepository) Create(ctx context.Context, tx DBTX, alert *models.FraudAlert) error {
	query := `INSERT INTO fraud_alerts (user_id, transaction_id, description, status, risk_score, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := tx.QueryRowContext(ctx, query,
		alert.UserID,
		alert.TransactionID,
		alert.Description,
		alert.Status,
		alert.RiskScore,
		alert.Source,
	).Scan(&alert.ID, &alert.CreatedAt)

	if err != nil {
		if errors.IsUniqueViolation(err) {
			return errors.ErrDuplicateAlert
		}
		return fmt.Errorf("failed to create fraud alert: %w", err)
	}
	return nil
}

func (r *PostgresAlertRepository) GetByID(ctx context.Context, id int64) (*models.FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE id = $1`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get fraud alert by ID: %w", err)
	}
	return alert, nil
}

func (r *PostgresAlertRepository) GetByTransactionID(ctx context.Context, tx DBTX, transactionID int64) (*models.FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE transaction_id = $1`

	alert, err := scanAlert(tx.QueryRowContext(ctx, query, transactionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get fraud alert by transaction ID: %w", err)
	}
	return alert, nil
}

// AppendDescription adds text on a new line without touching status.
func (r *PostgresAlertRepository) AppendDescription(ctx context.Context, tx DBTX, id int64, text string) error {
	query := `UPDATE fraud_alerts SET description = description || E'\n' || $1 WHERE id = $2`

	result, err := tx.ExecContext(ctx, query, text, id)
	if err != nil {
		return fmt.Errorf("failed to append fraud alert description: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after appending description: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrAlertNotFound
	}
	return nil
}

// RaiseRiskScore lifts risk_score to score. A lower score never replaces a
// higher one.
func (r *PostgresAlertRepository) RaiseRiskScore(ctx context.Context, tx DBTX, id int64, score int) error {
	query := `UPDATE fraud_alerts SET risk_score = GREATEST(risk_score, $1) WHERE id = $2`

	result, err := tx.ExecContext(ctx, query, score, id)
	if err != nil {
		return fmt.Errorf("failed to raise fraud alert risk score: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after raising risk score: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrAlertNotFound
	}
	return nil
}

// UpdateStatus writes alert's status, resolution, resolved_by and
// resolved_at only if the stored status still equals expected.
func (r *PostgresAlertRepository) UpdateStatus(ctx context.Context, tx DBTX, alert *models.FraudAlert, expected models.AlertStatus) error {
	query := `UPDATE fraud_alerts
		SET status = $1, resolution = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $5 AND status = $6`

	result, err := tx.ExecContext(ctx, query,
		alert.Status,
		alert.Resolution,
		alert.ResolvedBy,
		alert.ResolvedAt,
		alert.ID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update fraud alert status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating fraud alert status: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrConcurrentModification
	}
	return nil
}

// List returns one page of alerts newest first, optionally filtered by
// status and owner.
func (r *PostgresAlertRepository) List(ctx context.Context, q models.ListAlertsQuery) ([]*models.FraudAlert, int, error) {
	var (
		conditions []string
		args       []any
	)
	if q.Status != nil {
		args = append(args, *q.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.UserID != nil {
		args = append(args, *q.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fraud_alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count fraud alerts: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM fraud_alerts%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, alertColumns, where, len(args)+1, len(args)+2)
	args = append(args, q.Limit, (q.Page-1)*q.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list fraud alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.FraudAlert, 0, q.Limit)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan fraud alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating over fraud alerts: %w", err)
	}
	return alerts, total, nil
}
