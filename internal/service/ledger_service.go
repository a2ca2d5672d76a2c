package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/banking-core/internal/auth"
	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/metrics"
	"github.com/riteshkumar/banking-core/internal/models"
	"github.com/riteshkumar/banking-core/internal/repository"
)

const (
	maxDescriptionLength    = 500
	maxIdempotencyKeyLength = 100
)

// AlertCreator is the part of the fraud alert manager the ledger calls for
// flagged transactions.
type AlertCreator interface {
	CreateAlert(ctx context.Context, transactionID int64, description string, riskScore int) (*models.FraudAlert, error)
	RaiseAlertRisk(ctx context.Context, transactionID int64, description string, riskScore int) (*models.FraudAlert, error)
}

type LedgerService interface {
	SubmitTransaction(ctx context.Context, req *models.SubmitTransactionRequest) (*models.Transaction, error)
	GetTransaction(ctx context.Context, actor auth.Principal, id int64) (*models.Transaction, error)
	ListTransactions(ctx context.Context, q models.ListTransactionsQuery) (*models.TransactionPage, error)
	FinalizeRisk(ctx context.Context, id int64) (*models.Transaction, error)
}

type LedgerConfig struct {
	MaxAmount decimal.Decimal
	Timeout   time.Duration
}

type LedgerServiceImpl struct {
	transactor      repository.Transactor
	accountRepo     repository.AccountRepository
	transactionRepo repository.TransactionRepository
	auditRepo       repository.AuditRepository
	scorer          RiskScorer
	alerts          AlertCreator
	cfg             LedgerConfig
	now             func() time.Time
	logger          zerolog.Logger
}

func NewLedgerService(
	transactor repository.Transactor,
	accountRepo repository.AccountRepository,
	transactionRepo repository.TransactionRepository,
	auditRepo repository.AuditRepository,
	scorer RiskScorer,
	alerts AlertCreator,
	cfg LedgerConfig,
	logger zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		transactor:      transactor,
		accountRepo:     accountRepo,
		transactionRepo: transactionRepo,
		auditRepo:       auditRepo,
		scorer:          scorer,
		alerts:          alerts,
		cfg:             cfg,
		now:             time.Now,
		logger:          logger,
	}
}

// SubmitTransaction validates and applies one money movement atomically,
// then scores it. Scoring and alerting happen after commit and never undo
// the movement.
func (s *LedgerServiceImpl) SubmitTransaction(ctx context.Context, req *models.SubmitTransactionRequest) (*models.Transaction, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.validateSubmitRequest(req); err != nil {
		s.logger.Warn().
			Int64("account_id", req.AccountID).
			Str("type", string(req.Type)).
			Str("amount", req.Amount.String()).
			Err(err).
			Msg("invalid transaction request")
		metrics.TransactionsSubmitted.WithLabelValues(string(req.Type), "invalid").Inc()
		return nil, err
	}

	var counterparty *models.Account
	if req.Type == models.TypeTransfer {
		cp, err := s.resolveCounterparty(ctx, req)
		if err != nil {
			metrics.TransactionsSubmitted.WithLabelValues(string(req.Type), "rejected").Inc()
			return nil, err
		}
		counterparty = cp
	}

	if req.IdempotencyKey != "" {
		existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
		if err == nil {
			return s.replay(existing, req, counterparty)
		}
		if !errors.IsNotFound(err) {
			return nil, errors.NewPersistenceError("lookup idempotency key", err)
		}
	}

	txn := &models.Transaction{
		AccountID:   req.AccountID,
		Type:        req.Type,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		Reference:   newReference(s.now()),
		Status:      models.StatusPending,
	}
	if counterparty != nil {
		txn.CounterpartyID = &counterparty.ID
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		txn.IdempotencyKey = &key
	}

	err := s.transactor.WithinTx(ctx, func(tx repository.DBTX) error {
		return s.apply(ctx, tx, txn)
	})
	if err != nil {
		return s.handleApplyError(ctx, req, counterparty, err)
	}

	metrics.TransactionsSubmitted.WithLabelValues(string(txn.Type), "applied").Inc()
	s.logger.Info().
		Int64("transaction_id", txn.ID).
		Int64("account_id", txn.AccountID).
		Str("type", string(txn.Type)).
		Str("amount", txn.Amount.String()).
		Str("reference", txn.Reference).
		Msg("transaction applied")

	if err := s.finalize(ctx, txn); err != nil {
		metrics.ScoringFailures.Inc()
		s.logger.Error().
			Int64("transaction_id", txn.ID).
			Str("status", string(txn.Status)).
			Err(err).
			Msg("risk finalization incomplete, transaction left for backfill")
	}
	return txn, nil
}

// replay answers a request whose idempotency key was already used. The key
// only replays the same movement; anything else is rejected.
func (s *LedgerServiceImpl) replay(existing *models.Transaction, req *models.SubmitTransactionRequest, counterparty *models.Account) (*models.Transaction, error) {
	sameCounterparty := existing.CounterpartyID == nil && counterparty == nil ||
		existing.CounterpartyID != nil && counterparty != nil && *existing.CounterpartyID == counterparty.ID
	if existing.Type != req.Type || !existing.Amount.Equal(req.Amount) || !sameCounterparty {
		metrics.TransactionsSubmitted.WithLabelValues(string(req.Type), "invalid").Inc()
		s.logger.Warn().
			Int64("transaction_id", existing.ID).
			Str("idempotency_key", req.IdempotencyKey).
			Msg("idempotency key reused for a different transaction")
		return nil, errors.NewValidationError("idempotency_key", "already used for a different transaction")
	}

	s.logger.Info().
		Int64("transaction_id", existing.ID).
		Str("idempotency_key", req.IdempotencyKey).
		Msg("replayed idempotent transaction")
	return existing, nil
}

// apply runs inside the atomic unit: lock the involved accounts in
// ascending id order, check funds, insert the pending row, move balances.
func (s *LedgerServiceImpl) apply(ctx context.Context, tx repository.DBTX, txn *models.Transaction) error {
	ids := []int64{txn.AccountID}
	if txn.CounterpartyID != nil {
		ids = append(ids, *txn.CounterpartyID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	locked := make(map[int64]*models.Account, len(ids))
	for _, id := range ids {
		account, err := s.accountRepo.GetAccountByIDForUpdate(ctx, tx, id)
		if err != nil {
			if errors.IsNotFound(err) && id != txn.AccountID {
				return errors.ErrCounterpartyNotFound
			}
			return err
		}
		locked[id] = account
	}

	payer := locked[txn.AccountID]
	if txn.Type.Debit() && payer.Balance.LessThan(txn.Amount) {
		s.logger.Warn().
			Int64("account_id", payer.ID).
			Str("available_balance", payer.Balance.String()).
			Str("requested_amount", txn.Amount.String()).
			Msg("insufficient funds")
		return errors.ErrInsufficientFunds
	}

	if err := s.transactionRepo.Create(ctx, tx, txn); err != nil {
		return err
	}

	if txn.Type.Debit() {
		if err := s.moveBalance(ctx, tx, txn, payer, txn.Amount.Neg()); err != nil {
			return err
		}
		if txn.CounterpartyID != nil {
			return s.moveBalance(ctx, tx, txn, locked[*txn.CounterpartyID], txn.Amount)
		}
		return nil
	}
	return s.moveBalance(ctx, tx, txn, payer, txn.Amount)
}

func (s *LedgerServiceImpl) moveBalance(ctx context.Context, tx repository.DBTX, txn *models.Transaction, account *models.Account, delta decimal.Decimal) error {
	oldBalance := account.Balance
	newBalance := oldBalance.Add(delta)
	if newBalance.IsNegative() {
		return errors.ErrInsufficientFunds
	}
	if err := s.accountRepo.UpdateAccountBalance(ctx, tx, account.ID, newBalance); err != nil {
		return err
	}
	account.Balance = newBalance

	action := models.AuditActionCredit
	if delta.IsNegative() {
		action = models.AuditActionDebit
	}
	entry, err := auditEntry(models.EntityTypeAccount, account.ID, action, &txn.AccountID,
		models.AccountBalanceSnapshot{ID: account.ID, Balance: oldBalance},
		models.AccountBalanceSnapshot{ID: account.ID, Balance: newBalance})
	if err != nil {
		return err
	}
	return s.auditRepo.Create(ctx, tx, entry)
}

func (s *LedgerServiceImpl) handleApplyError(ctx context.Context, req *models.SubmitTransactionRequest, counterparty *models.Account, err error) (*models.Transaction, error) {
	switch {
	case errors.IsInsufficientFunds(err):
		metrics.TransactionsSubmitted.WithLabelValues(string(req.Type), "insufficient_funds").Inc()
		return nil, err
	case errors.IsNotFound(err):
		metrics.TransactionsSubmitted.WithLabelValues(string(req.Type), "rejected").Inc()
		return nil, err
	case err == repository.ErrDuplicateTransaction && req.IdempotencyKey != "":
		// lost a race with a concurrent request carrying the same key
		existing, lookupErr := s.transactionRepo.GetByIdempotencyKey(ctx, req.AccountID, req.IdempotencyKey)
		if lookupErr == nil {
			return s.replay(existing, req, counterparty)
		}
		err = lookupErr
	}

	metrics.TransactionsSubmitted.WithLabelValues(string(req.Type), "error").Inc()
	s.logger.Error().
		Int64("account_id", req.AccountID).
		Str("type", string(req.Type)).
		Err(err).
		Msg("failed to apply transaction")
	return nil, errors.NewPersistenceError("submit transaction", err)
}

func (s *LedgerServiceImpl) resolveCounterparty(ctx context.Context, req *models.SubmitTransactionRequest) (*models.Account, error) {
	cp, err := s.accountRepo.GetAccountByNumber(ctx, req.CounterpartyRef)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn().Str("counterparty_ref", req.CounterpartyRef).Msg("counterparty not found")
			return nil, errors.ErrCounterpartyNotFound
		}
		return nil, errors.NewPersistenceError("resolve counterparty", err)
	}
	if cp.ID == req.AccountID {
		return nil, fmt.Errorf("counterparty must differ from payer: %w", errors.ErrCounterpartyNotFound)
	}
	return cp, nil
}

// finalize scores txn and writes back risk_score and the final status,
// raising an alert for flagged transactions. It mutates txn in place.
func (s *LedgerServiceImpl) finalize(ctx context.Context, txn *models.Transaction) error {
	assessment, err := s.scorer.Assess(ctx, txn)
	if err != nil {
		return err
	}

	status := assessment.Status()
	if err := s.transactionRepo.UpdateRiskOutcome(ctx, txn.ID, assessment.Score, status); err != nil {
		if err != errors.ErrConcurrentModification {
			return fmt.Errorf("write back risk outcome: %w", err)
		}
		// another writer already finalized the row; report what it stored
		current, getErr := s.transactionRepo.GetByID(ctx, txn.ID)
		if getErr != nil {
			return fmt.Errorf("reload finalized transaction: %w", getErr)
		}
		*txn = *current
		return nil
	}

	score := assessment.Score
	txn.RiskScore = &score
	txn.Status = status

	if !assessment.Flagged() {
		return nil
	}

	s.logger.Warn().
		Int64("transaction_id", txn.ID).
		Int64("account_id", txn.AccountID).
		Int("risk_score", score).
		Msg("transaction flagged")

	return s.raiseAlert(ctx, txn, score, assessment.Explain())
}

// raiseAlert opens the auto alert for a flagged transaction. When a user
// report already opened one, that alert takes the flag's score and
// explanation instead.
func (s *LedgerServiceImpl) raiseAlert(ctx context.Context, txn *models.Transaction, score int, explanation string) error {
	description := fmt.Sprintf("Transaction %s flagged: %s", txn.Reference, explanation)
	_, err := s.alerts.CreateAlert(ctx, txn.ID, description, score)
	if err == errors.ErrDuplicateAlert {
		_, err = s.alerts.RaiseAlertRisk(ctx, txn.ID, description, score)
	}
	if err != nil {
		return fmt.Errorf("raise fraud alert: %w", err)
	}
	return nil
}

// FinalizeRisk completes post-commit work a failed step left behind: it
// scores a pending transaction, or raises the missing alert of a flagged
// one. Other transactions are returned unchanged.
func (s *LedgerServiceImpl) FinalizeRisk(ctx context.Context, id int64) (*models.Transaction, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	txn, err := s.transactionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.NewPersistenceError("get transaction", err)
	}
	switch {
	case txn.Status == models.StatusPending && txn.RiskScore == nil:
		if err := s.finalize(ctx, txn); err != nil {
			return nil, errors.NewPersistenceError("finalize risk", err)
		}
	case txn.Status == models.StatusFlagged && txn.RiskScore != nil:
		// history is strictly prior to txn, so the explanation is reproducible
		assessment, err := s.scorer.Assess(ctx, txn)
		if err != nil {
			return nil, errors.NewPersistenceError("explain flagged transaction", err)
		}
		if err := s.raiseAlert(ctx, txn, *txn.RiskScore, assessment.Explain()); err != nil {
			return nil, errors.NewPersistenceError("finalize risk", err)
		}
	}
	return txn, nil
}

// GetTransaction is visible to the payer, the counterparty and privileged actors.
func (s *LedgerServiceImpl) GetTransaction(ctx context.Context, actor auth.Principal, id int64) (*models.Transaction, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	txn, err := s.transactionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.NewPersistenceError("get transaction", err)
	}

	involved := txn.AccountID == actor.AccountID ||
		(txn.CounterpartyID != nil && *txn.CounterpartyID == actor.AccountID)
	if !involved && !actor.Privileged() {
		return nil, errors.ErrUnauthorized
	}
	return txn, nil
}

func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, q models.ListTransactionsQuery) (*models.TransactionPage, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	page, limit, err := normalizePage(q.Page, q.Limit)
	if err != nil {
		return nil, err
	}
	q.Page, q.Limit = page, limit

	switch q.Sort {
	case "":
		q.Sort = models.SortByDate
	case models.SortByDate, models.SortByAmount:
	default:
		return nil, errors.NewValidationError("sort", "must be date or amount")
	}
	switch q.Order {
	case "":
		q.Order = models.OrderDesc
	case models.OrderAsc, models.OrderDesc:
	default:
		return nil, errors.NewValidationError("order", "must be asc or desc")
	}

	items, total, err := s.transactionRepo.ListByAccount(ctx, q)
	if err != nil {
		s.logger.Error().Int64("account_id", q.AccountID).Err(err).Msg("failed to list transactions")
		return nil, errors.NewPersistenceError("list transactions", err)
	}
	return &models.TransactionPage{Items: items, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

func (s *LedgerServiceImpl) validateSubmitRequest(req *models.SubmitTransactionRequest) error {
	if req.AccountID <= 0 {
		return errors.NewValidationError("account_id", "must be positive")
	}
	if !req.Type.Valid() {
		return errors.NewValidationError("type", "unrecognized transaction type")
	}
	if !req.Amount.IsPositive() {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if req.Amount.GreaterThan(s.cfg.MaxAmount) {
		return errors.NewValidationError("amount", "must not exceed "+s.cfg.MaxAmount.String())
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return errors.NewValidationError("amount", "must have at most 2 decimal places")
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return errors.NewValidationError("description", "must be non-empty")
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return errors.NewValidationError("description", "must be at most 500 characters")
	}
	if req.Type == models.TypeTransfer && strings.TrimSpace(req.CounterpartyRef) == "" {
		return errors.NewValidationError("counterparty_ref", "required for transfers")
	}
	if req.Type != models.TypeTransfer && req.CounterpartyRef != "" {
		return errors.NewValidationError("counterparty_ref", "only allowed for transfers")
	}
	if utf8.RuneCountInString(req.IdempotencyKey) > maxIdempotencyKeyLength {
		return errors.NewValidationError("idempotency_key", "must be at most 100 characters")
	}
	return nil
}

// newReference stamps a transaction: timestamp plus a random suffix.
func newReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return "VF" + now.UTC().Format("20060102150405") + suffix
}
