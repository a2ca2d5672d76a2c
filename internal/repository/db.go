package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrDuplicateAccountNumber = errors.New("account number already taken")
	ErrDuplicateTransaction   = errors.New("transaction reference or idempotency key already used")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor runs fn as one atomic unit. fn's error rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx DBTX) error) error
}

type PostgresTransactor struct {
	db *sql.DB
}

func NewTransactor(db *sql.DB) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

// WithinTx uses READ COMMITTED; exclusivity comes from SELECT ... FOR UPDATE
// row locks taken inside fn, so concurrent debits queue instead of failing
// with serialization errors.
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure rollback on error
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	// Nullify tx to avoid rollback in defer
	tx = nil
	return nil
}
