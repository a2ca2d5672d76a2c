package service

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/banking-core/internal/auth"
	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/models"
	"github.com/riteshkumar/banking-core/internal/repository"
)

const accountNumberAttempts = 5

type AccountService interface {
	CreateAccount(ctx context.Context, actor auth.Principal, req *models.CreateAccountRequest) (*models.Account, error)
	GetAccount(ctx context.Context, actor auth.Principal, id int64) (*models.Account, error)
}

type AccountServiceImpl struct {
	transactor  repository.Transactor
	accountRepo repository.AccountRepository
	auditRepo   repository.AuditRepository
	logger      zerolog.Logger
}

func NewAccountService(transactor repository.Transactor, accountRepo repository.AccountRepository, auditRepo repository.AuditRepository, logger zerolog.Logger) *AccountServiceImpl {
	return &AccountServiceImpl{
		transactor:  transactor,
		accountRepo: accountRepo,
		auditRepo:   auditRepo,
		logger:      logger,
	}
}

// CreateAccount opens a zero-balance account. Only admins may open
// accounts; money enters afterwards through the ledger.
func (s *AccountServiceImpl) CreateAccount(ctx context.Context, actor auth.Principal, req *models.CreateAccountRequest) (*models.Account, error) {
	if actor.Role != models.RoleAdmin {
		return nil, errors.ErrUnauthorized
	}
	if req.Role == "" {
		req.Role = models.RoleCustomer
	}
	if !req.Role.Valid() {
		return nil, errors.NewValidationError("role", "must be one of customer, agent, admin")
	}

	var account *models.Account
	for attempt := 0; attempt < accountNumberAttempts; attempt++ {
		account = &models.Account{
			AccountNumber: generateAccountNumber(),
			Balance:       decimal.Zero,
			Role:          req.Role,
		}
		err := s.transactor.WithinTx(ctx, func(tx repository.DBTX) error {
			if err := s.accountRepo.CreateAccount(ctx, tx, account); err != nil {
				return err
			}
			entry, err := auditEntry(models.EntityTypeAccount, account.ID, models.AuditActionCreate, &actor.AccountID, nil,
				models.AccountBalanceSnapshot{ID: account.ID, Balance: account.Balance})
			if err != nil {
				return err
			}
			return s.auditRepo.Create(ctx, tx, entry)
		})
		if err == nil {
			s.logger.Info().
				Int64("account_id", account.ID).
				Str("role", string(account.Role)).
				Int64("actor_id", actor.AccountID).
				Msg("account created successfully")
			return account, nil
		}
		if err != repository.ErrDuplicateAccountNumber {
			s.logger.Error().Err(err).Msg("failed to create account")
			return nil, errors.NewPersistenceError("create account", err)
		}
		s.logger.Warn().Str("account_number", account.AccountNumber).Msg("account number collision, retrying")
	}
	return nil, errors.NewPersistenceError("create account", repository.ErrDuplicateAccountNumber)
}

// GetAccount returns the account to its owner or to a privileged actor.
func (s *AccountServiceImpl) GetAccount(ctx context.Context, actor auth.Principal, id int64) (*models.Account, error) {
	if id <= 0 {
		return nil, errors.NewValidationError("id", "must be positive")
	}
	if id != actor.AccountID && !actor.Privileged() {
		return nil, errors.ErrUnauthorized
	}

	account, err := s.accountRepo.GetAccountByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn().Int64("account_id", id).Msg("account not found")
			return nil, err
		}
		s.logger.Error().Int64("account_id", id).Err(err).Msg("failed to get account")
		return nil, errors.NewPersistenceError("get account", err)
	}

	return account, nil
}

// generateAccountNumber returns a random 10-digit account number.
func generateAccountNumber() string {
	return fmt.Sprintf("%010d", rand.Int63n(10_000_000_000))
}
