package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/models"
	"github.com/riteshkumar/banking-core/internal/repository"
)

// RiskFinalizer is the ledger operation the backfill drives.
type RiskFinalizer interface {
	FinalizeRisk(ctx context.Context, id int64) (*models.Transaction, error)
}

type BackfillResult struct {
	Scanned   int
	Finalized int
	Flagged   int
	Failed    int
}

// BackfillService finishes post-commit work that failed at submission:
// unscored transactions get scored and flagged ones without an alert get it.
// Each transaction is finalized in its own unit of work and no account
// lock is held across the batch.
type BackfillService struct {
	transactionRepo repository.TransactionRepository
	ledger          RiskFinalizer
	now             func() time.Time
	logger          zerolog.Logger
}

func NewBackfillService(transactionRepo repository.TransactionRepository, ledger RiskFinalizer, logger zerolog.Logger) *BackfillService {
	return &BackfillService{
		transactionRepo: transactionRepo,
		ledger:          ledger,
		now:             time.Now,
		logger:          logger,
	}
}

// Run processes one batch. grace skips rows young enough that their
// submitting request may still be scoring them.
func (s *BackfillService) Run(ctx context.Context, batchSize int, grace time.Duration) (*BackfillResult, error) {
	if batchSize <= 0 {
		return nil, errors.NewValidationError("batch_size", "must be positive")
	}

	ids, err := s.transactionRepo.ListUnfinalized(ctx, s.now().Add(-grace), batchSize)
	if err != nil {
		return nil, errors.NewPersistenceError("list unfinalized transactions", err)
	}

	result := &BackfillResult{Scanned: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		txn, err := s.ledger.FinalizeRisk(ctx, id)
		if err != nil || txn.RiskScore == nil {
			result.Failed++
			s.logger.Error().Int64("transaction_id", id).Err(err).Msg("backfill failed to finalize transaction")
			continue
		}
		result.Finalized++
		if txn.Status == models.StatusFlagged {
			result.Flagged++
		}
	}

	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("finalized", result.Finalized).
		Int("flagged", result.Flagged).
		Int("failed", result.Failed).
		Msg("risk backfill batch complete")
	return result, nil
}
