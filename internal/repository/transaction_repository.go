package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx DBTX, transaction *models.Transaction) error
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx DBTX, id int64) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, accountID int64, key string) (*models.Transaction, error)
	ListByAccount(ctx context.Context, q models.ListTransactionsQuery) ([]*models.Transaction, int, error)
	GetRiskHistory(ctx context.Context, accountID, beforeID int64, since time.Time) (*models.RiskHistory, error)
	UpdateRiskOutcome(ctx context.Context, id int64, score int, status models.TransactionStatus) error
	MarkReported(ctx context.Context, tx DBTX, id int64) error
	ListUnfinalized(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error)
}

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

const transactionColumns = `id, account_id, counterparty_id, type, amount, description, reference,
	idempotency_key, status, risk_score, reported, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	transaction := &models.Transaction{}
	var (
		counterpartyID sql.NullInt64
		idempotencyKey sql.NullString
		riskScore      sql.NullInt64
	)
	err := row.Scan(
		&transaction.ID,
		&transaction.AccountID,
		&counterpartyID,
		&transaction.Type,
		&transaction.Amount,
		&transaction.Description,
		&transaction.Reference,
		&idempotencyKey,
		&transaction.Status,
		&riskScore,
		&transaction.Reported,
		&transaction.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if counterpartyID.Valid {
		transaction.CounterpartyID = &counterpartyID.Int64
	}
	if idempotencyKey.Valid {
		transaction.IdempotencyKey = &idempotencyKey.String
	}
	if riskScore.Valid {
		score := int(riskScore.Int64)
		transaction.RiskScore = &score
	}
	return transaction, nil
}

// Create inserts the transaction row inside tx. Status is taken from the
// model and is expected to be pending.
func (r *PostgresTransactionRepository) Create(ctx context.Context, tx DBTX, transaction *models.Transaction) error {
	query := `INSERT INTO transactions (account_id, counterparty_id, type, amount, description, reference, idempotency_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := tx.QueryRowContext(ctx, query,
		transaction.AccountID,
		transaction.CounterpartyID,
		transaction.Type,
		transaction.Amount,
		transaction.Description,
		transaction.Reference,
		transaction.IdempotencyKey,
		transaction.Status,
	).Scan(&transaction.ID, &transaction.CreatedAt)

	if err != nil {
		if errors.IsUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	transaction, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by ID: %w", err)
	}
	return transaction, nil
}

func (r *PostgresTransactionRepository) GetByIDForUpdate(ctx context.Context, tx DBTX, id int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	transaction, err := scanTransaction(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by ID for update: %w", err)
	}
	return transaction, nil
}

func (r *PostgresTransactionRepository) GetByIdempotencyKey(ctx context.Context, accountID int64, key string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1 AND idempotency_key = $2`

	transaction, err := scanTransaction(r.db.QueryRowContext(ctx, query, accountID, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w", err)
	}
	return transaction, nil
}

var sortColumns = map[models.TransactionSort]string{
	models.SortByDate:   "created_at",
	models.SortByAmount: "amount",
}

// ListByAccount returns one page of transactions where the account is payer
// or counterparty, plus the total across all pages. Sort and order are
// expected to be validated by the caller.
func (r *PostgresTransactionRepository) ListByAccount(ctx context.Context, q models.ListTransactionsQuery) ([]*models.Transaction, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM transactions WHERE account_id = $1 OR counterparty_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, q.AccountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	column, ok := sortColumns[q.Sort]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if q.Order == models.OrderAsc {
		direction = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions
		WHERE account_id = $1 OR counterparty_id = $1
		ORDER BY %s %s, id %s
		LIMIT $2 OFFSET $3`, transactionColumns, column, direction, direction)

	rows, err := r.db.QueryContext(ctx, query, q.AccountID, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions by account ID: %w", err)
	}
	defer rows.Close()

	transactions := make([]*models.Transaction, 0, q.Limit)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, transaction)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating over transactions: %w", err)
	}
	return transactions, total, nil
}

// GetRiskHistory aggregates the payer's transactions with id below beforeID.
// RecentCount only covers rows created after since.
func (r *PostgresTransactionRepository) GetRiskHistory(ctx context.Context, accountID, beforeID int64, since time.Time) (*models.RiskHistory, error) {
	query := `SELECT COUNT(*) FILTER (WHERE created_at > $3), COUNT(*), COALESCE(AVG(amount), 0)
		FROM transactions
		WHERE account_id = $1 AND id < $2`

	history := &models.RiskHistory{}
	err := r.db.QueryRowContext(ctx, query, accountID, beforeID, since).
		Scan(&history.RecentCount, &history.PriorCount, &history.MeanAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate risk history: %w", err)
	}
	return history, nil
}

// UpdateRiskOutcome finalizes a pending transaction. The status guard keeps
// transitions forward-only; a row that is no longer pending yields
// errors.ErrConcurrentModification.
func (r *PostgresTransactionRepository) UpdateRiskOutcome(ctx context.Context, id int64, score int, status models.TransactionStatus) error {
	query := `UPDATE transactions SET risk_score = $1, status = $2 WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, score, status, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to update risk outcome: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating risk outcome: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrConcurrentModification
	}
	return nil
}

func (r *PostgresTransactionRepository) MarkReported(ctx context.Context, tx DBTX, id int64) error {
	query := `UPDATE transactions SET reported = TRUE WHERE id = $1`

	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark transaction reported: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after marking transaction reported: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrTransactionNotFound
	}
	return nil
}

// ListUnfinalized returns ids, oldest first, of transactions created before
// the cutoff whose post-commit work did not complete: pending rows without a
// risk score, and flagged rows that never got their fraud alert.
func (r *PostgresTransactionRepository) ListUnfinalized(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	query := `SELECT t.id FROM transactions t
		WHERE t.created_at < $3
		AND ((t.status = $1 AND t.risk_score IS NULL)
			OR (t.status = $2 AND NOT EXISTS (SELECT 1 FROM fraud_alerts a WHERE a.transaction_id = t.id)))
		ORDER BY t.id ASC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, models.StatusPending, models.StatusFlagged, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinalized transactions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over unfinalized transactions: %w", err)
	}
	return ids, nil
}
