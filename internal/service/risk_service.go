package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/riteshkumar/banking-core/internal/metrics"
	"github.com/riteshkumar/banking-core/internal/models"
	"github.com/riteshkumar/banking-core/internal/repository"
	"github.com/riteshkumar/banking-core/internal/risk"
)

// RiskScorer scores a committed transaction. It only reads.
type RiskScorer interface {
	Assess(ctx context.Context, txn *models.Transaction) (*risk.Assessment, error)
}

type RiskServiceImpl struct {
	accountRepo     repository.AccountRepository
	transactionRepo repository.TransactionRepository
	logger          zerolog.Logger
}

func NewRiskService(accountRepo repository.AccountRepository, transactionRepo repository.TransactionRepository, logger zerolog.Logger) *RiskServiceImpl {
	return &RiskServiceImpl{
		accountRepo:     accountRepo,
		transactionRepo: transactionRepo,
		logger:          logger,
	}
}

// Assess loads the payer account and the aggregates of its transactions
// that precede txn, then computes the score. No account lock is taken.
func (s *RiskServiceImpl) Assess(ctx context.Context, txn *models.Transaction) (*risk.Assessment, error) {
	account, err := s.accountRepo.GetAccountByID(ctx, txn.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load payer account: %w", err)
	}

	since := txn.CreatedAt.Add(-risk.FrequencyWindow)
	history, err := s.transactionRepo.GetRiskHistory(ctx, txn.AccountID, txn.ID, since)
	if err != nil {
		return nil, fmt.Errorf("load risk history: %w", err)
	}

	assessment := risk.Compute(txn, account, history)
	metrics.RiskScores.Observe(float64(assessment.Score))

	s.logger.Debug().
		Int64("transaction_id", txn.ID).
		Int64("account_id", txn.AccountID).
		Int("risk_score", assessment.Score).
		Interface("factors", assessment.Factors).
		Msg("transaction scored")

	return assessment, nil
}
