package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		account_number VARCHAR(20) UNIQUE NOT NULL,
		balance NUMERIC(15, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		role VARCHAR(20) NOT NULL DEFAULT 'customer',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_login TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		counterparty_id BIGINT REFERENCES accounts(id),
		type VARCHAR(20) NOT NULL,
		amount NUMERIC(15, 2) NOT NULL CHECK (amount > 0),
		description TEXT NOT NULL,
		reference VARCHAR(50) UNIQUE NOT NULL,
		idempotency_key VARCHAR(100),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		risk_score INTEGER CHECK (risk_score BETWEEN 0 AND 100),
		reported BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (account_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_created ON transactions(account_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_counterparty ON transactions(counterparty_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_unscored ON transactions(id) WHERE status = 'pending' AND risk_score IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_flagged ON transactions(id) WHERE status = 'flagged'`,

	`CREATE TABLE IF NOT EXISTS fraud_alerts (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES accounts(id),
		transaction_id BIGINT NOT NULL UNIQUE REFERENCES transactions(id),
		description TEXT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'new',
		risk_score INTEGER NOT NULL,
		source VARCHAR(20) NOT NULL,
		resolution TEXT,
		resolved_by BIGINT REFERENCES accounts(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		resolved_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fraud_alerts_status_created ON fraud_alerts(status, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_fraud_alerts_user ON fraud_alerts(user_id)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		entity_type VARCHAR(30) NOT NULL,
		entity_id BIGINT NOT NULL,
		action VARCHAR(30) NOT NULL,
		actor_id BIGINT,
		old_value JSONB,
		new_value JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs(entity_type, entity_id)`,
}

// Migrate applies the schema idempotently.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
