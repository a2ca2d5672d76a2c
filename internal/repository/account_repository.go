package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/models"
)

type AccountRepository interface {
	CreateAccount(ctx context.Context, tx DBTX, account *models.Account) error
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
	GetAccountByNumber(ctx context.Context, accountNumber string) (*models.Account, error)
	GetAccountByIDForUpdate(ctx context.Context, tx DBTX, id int64) (*models.Account, error)
	UpdateAccountBalance(ctx context.Context, tx DBTX, id int64, newBalance decimal.Decimal) error
}

type PostgresAccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

const accountColumns = `id, account_number, balance, role, created_at, last_login`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	account := &models.Account{}
	var lastLogin sql.NullTime
	err := row.Scan(&account.ID, &account.AccountNumber, &account.Balance, &account.Role, &account.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		account.LastLogin = &lastLogin.Time
	}
	return account, nil
}

// CreateAccount inserts a zero-balance account. A clashing account number
// is reported as ErrDuplicateAccountNumber so the caller can retry.
func (r *PostgresAccountRepository) CreateAccount(ctx context.Context, tx DBTX, account *models.Account) error {
	query := `INSERT INTO accounts (account_number, balance, role, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		RETURNING id, created_at`

	err := tx.QueryRowContext(ctx, query, account.AccountNumber, account.Balance, account.Role).
		Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		if errors.IsUniqueViolation(err) {
			return ErrDuplicateAccountNumber
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *PostgresAccountRepository) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by ID: %w", err)
	}
	return account, nil
}

func (r *PostgresAccountRepository) GetAccountByNumber(ctx context.Context, accountNumber string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, accountNumber))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by number: %w", err)
	}
	return account, nil
}

// GetAccountByIDForUpdate takes the row lock held until tx ends.
func (r *PostgresAccountRepository) GetAccountByIDForUpdate(ctx context.Context, tx DBTX, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	account, err := scanAccount(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by ID for update: %w", err)
	}

	return account, nil
}

func (r *PostgresAccountRepository) UpdateAccountBalance(ctx context.Context, tx DBTX, id int64, newBalance decimal.Decimal) error {
	query := `UPDATE accounts SET balance = $1 WHERE id = $2`

	result, err := tx.ExecContext(ctx, query, newBalance, id)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating account balance: %w", err)
	}

	if rowsAffected == 0 {
		return errors.ErrAccountNotFound
	}

	return nil
}
