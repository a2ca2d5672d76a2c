package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/models"
	"github.com/riteshkumar/banking-core/internal/notify"
	"github.com/riteshkumar/banking-core/internal/repository"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory stand-in for postgres. txMu serializes atomic
// units the way row locks serialize them in the database; writes made
// inside a unit are undone if the unit fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	undo []func()

	accounts map[int64]*models.Account
	txns     map[int64]*models.Transaction
	alerts   map[int64]*models.FraudAlert
	audits   []*models.AuditLog

	nextAccount int64
	nextTxn     int64
	nextAlert   int64
	nextAudit   int64

	clock time.Time

	historyErr   error
	auditErr     error
	alertErr     error
	listErr      error
	beforeUpdate func(alertID int64)

	// readDeadline records whether the last read carried a deadline
	readDeadline bool
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[int64]*models.Account),
		txns:     make(map[int64]*models.Transaction),
		alerts:   make(map[int64]*models.FraudAlert),
		clock:    testNow,
	}
}

func (s *memStore) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

func (s *memStore) advance(d time.Duration) {
	s.mu.Lock()
	s.clock = s.clock.Add(d)
	s.mu.Unlock()
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx repository.DBTX) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	s.undo = nil
	s.mu.Unlock()

	err := fn(nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		for i := len(s.undo) - 1; i >= 0; i-- {
			s.undo[i]()
		}
	}
	s.undo = nil
	return err
}

// addAccount seeds an account created age ago.
func (s *memStore) addAccount(balance string, age time.Duration, role models.Role) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAccount++
	a := &models.Account{
		ID:            s.nextAccount,
		AccountNumber: fmt.Sprintf("%010d", 1000000000+s.nextAccount),
		Balance:       decimal.RequireFromString(balance),
		Role:          role,
		CreatedAt:     s.clock.Add(-age),
	}
	s.accounts[a.ID] = a
	return cloneAccount(a)
}

// addTransaction seeds a finalized transaction created ago before now.
func (s *memStore) addTransaction(accountID int64, t models.TransactionType, amount string, ago time.Duration) *models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTxn++
	score := 0
	txn := &models.Transaction{
		ID:          s.nextTxn,
		AccountID:   accountID,
		Type:        t,
		Amount:      decimal.RequireFromString(amount),
		Description: "seed",
		Reference:   fmt.Sprintf("SEED%d", s.nextTxn),
		Status:      models.StatusCompleted,
		RiskScore:   &score,
		CreatedAt:   s.clock.Add(-ago),
	}
	s.txns[txn.ID] = txn
	return cloneTransaction(txn)
}

func (s *memStore) balance(id int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Balance
}

func (s *memStore) transaction(id int64) *models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.txns[id]; ok {
		return cloneTransaction(t)
	}
	return nil
}

func (s *memStore) transactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txns)
}

func (s *memStore) alertsFor(txnID int64) []*models.FraudAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.FraudAlert
	for _, a := range s.alerts {
		if a.TransactionID == txnID {
			out = append(out, cloneAlert(a))
		}
	}
	return out
}

func (s *memStore) auditActions(entityType string, entityID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.audits {
		if l.EntityType == entityType && l.EntityID == entityID {
			out = append(out, l.Action)
		}
	}
	return out
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func cloneTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	if t.RiskScore != nil {
		score := *t.RiskScore
		c.RiskScore = &score
	}
	if t.CounterpartyID != nil {
		id := *t.CounterpartyID
		c.CounterpartyID = &id
	}
	return &c
}

func cloneAlert(a *models.FraudAlert) *models.FraudAlert {
	c := *a
	return &c
}

type memAccounts struct{ *memStore }

func (r memAccounts) CreateAccount(_ context.Context, _ repository.DBTX, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.AccountNumber == account.AccountNumber {
			return repository.ErrDuplicateAccountNumber
		}
	}
	r.nextAccount++
	account.ID = r.nextAccount
	account.CreatedAt = r.clock
	r.accounts[account.ID] = cloneAccount(account)
	id := account.ID
	r.undo = append(r.undo, func() { delete(r.accounts, id) })
	return nil
}

func (r memAccounts) GetAccountByID(_ context.Context, id int64) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (r memAccounts) GetAccountByNumber(_ context.Context, number string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.AccountNumber == number {
			return cloneAccount(a), nil
		}
	}
	return nil, errors.ErrAccountNotFound
}

func (r memAccounts) GetAccountByIDForUpdate(ctx context.Context, _ repository.DBTX, id int64) (*models.Account, error) {
	return r.GetAccountByID(ctx, id)
}

func (r memAccounts) UpdateAccountBalance(_ context.Context, _ repository.DBTX, id int64, balance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return errors.ErrAccountNotFound
	}
	old := a.Balance
	a.Balance = balance
	r.undo = append(r.undo, func() { a.Balance = old })
	return nil
}

type memTransactions struct{ *memStore }

func (r memTransactions) Create(_ context.Context, _ repository.DBTX, t *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.txns {
		if existing.Reference == t.Reference {
			return repository.ErrDuplicateTransaction
		}
		if t.IdempotencyKey != nil && existing.IdempotencyKey != nil &&
			existing.AccountID == t.AccountID && *existing.IdempotencyKey == *t.IdempotencyKey {
			return repository.ErrDuplicateTransaction
		}
	}
	r.nextTxn++
	t.ID = r.nextTxn
	t.CreatedAt = r.clock
	r.txns[t.ID] = cloneTransaction(t)
	id := t.ID
	r.undo = append(r.undo, func() { delete(r.txns, id) })
	return nil
}

func (r memTransactions) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.readDeadline = ctx.Deadline()
	t, ok := r.txns[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	return cloneTransaction(t), nil
}

func (r memTransactions) GetByIDForUpdate(ctx context.Context, _ repository.DBTX, id int64) (*models.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r memTransactions) GetByIdempotencyKey(_ context.Context, accountID int64, key string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.txns {
		if t.AccountID == accountID && t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			return cloneTransaction(t), nil
		}
	}
	return nil, errors.ErrTransactionNotFound
}

func (r memTransactions) ListByAccount(ctx context.Context, q models.ListTransactionsQuery) ([]*models.Transaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.readDeadline = ctx.Deadline()
	if r.listErr != nil {
		return nil, 0, r.listErr
	}
	var matched []*models.Transaction
	for _, t := range r.txns {
		if t.AccountID == q.AccountID || (t.CounterpartyID != nil && *t.CounterpartyID == q.AccountID) {
			matched = append(matched, cloneTransaction(t))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less bool
		switch {
		case q.Sort == models.SortByAmount && !a.Amount.Equal(b.Amount):
			less = a.Amount.LessThan(b.Amount)
		case q.Sort != models.SortByAmount && !a.CreatedAt.Equal(b.CreatedAt):
			less = a.CreatedAt.Before(b.CreatedAt)
		default:
			less = a.ID < b.ID
		}
		if q.Order == models.OrderDesc {
			return !less
		}
		return less
	})
	total := len(matched)
	start := (q.Page - 1) * q.Limit
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r memTransactions) GetRiskHistory(_ context.Context, accountID, beforeID int64, since time.Time) (*models.RiskHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.historyErr != nil {
		return nil, r.historyErr
	}
	h := &models.RiskHistory{MeanAmount: decimal.Zero}
	sum := decimal.Zero
	for _, t := range r.txns {
		if t.AccountID != accountID || t.ID >= beforeID {
			continue
		}
		h.PriorCount++
		sum = sum.Add(t.Amount)
		if t.CreatedAt.After(since) {
			h.RecentCount++
		}
	}
	if h.PriorCount > 0 {
		h.MeanAmount = sum.Div(decimal.NewFromInt(int64(h.PriorCount)))
	}
	return h, nil
}

func (r memTransactions) UpdateRiskOutcome(_ context.Context, id int64, score int, status models.TransactionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok || t.Status != models.StatusPending {
		return errors.ErrConcurrentModification
	}
	t.RiskScore = &score
	t.Status = status
	return nil
}

func (r memTransactions) MarkReported(_ context.Context, _ repository.DBTX, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok {
		return errors.ErrTransactionNotFound
	}
	old := t.Reported
	t.Reported = true
	r.undo = append(r.undo, func() { t.Reported = old })
	return nil
}

func (r memTransactions) ListUnfinalized(_ context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alerted := make(map[int64]bool, len(r.alerts))
	for _, a := range r.alerts {
		alerted[a.TransactionID] = true
	}
	var ids []int64
	for _, t := range r.txns {
		if !t.CreatedAt.Before(createdBefore) {
			continue
		}
		unscored := t.Status == models.StatusPending && t.RiskScore == nil
		unalerted := t.Status == models.StatusFlagged && !alerted[t.ID]
		if unscored || unalerted {
			ids = append(ids, t.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type memAlerts struct{ *memStore }

func (r memAlerts) Create(_ context.Context, _ repository.DBTX, alert *models.FraudAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.alertErr != nil {
		return r.alertErr
	}
	for _, a := range r.alerts {
		if a.TransactionID == alert.TransactionID {
			return errors.ErrDuplicateAlert
		}
	}
	r.nextAlert++
	alert.ID = r.nextAlert
	alert.CreatedAt = r.clock
	r.alerts[alert.ID] = cloneAlert(alert)
	id := alert.ID
	r.undo = append(r.undo, func() { delete(r.alerts, id) })
	return nil
}

func (r memAlerts) GetByID(ctx context.Context, id int64) (*models.FraudAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.readDeadline = ctx.Deadline()
	a, ok := r.alerts[id]
	if !ok {
		return nil, errors.ErrAlertNotFound
	}
	return cloneAlert(a), nil
}

func (r memAlerts) GetByTransactionID(_ context.Context, _ repository.DBTX, txnID int64) (*models.FraudAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.TransactionID == txnID {
			return cloneAlert(a), nil
		}
	}
	return nil, errors.ErrAlertNotFound
}

func (r memAlerts) AppendDescription(_ context.Context, _ repository.DBTX, id int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return errors.ErrAlertNotFound
	}
	old := a.Description
	a.Description += "\n" + text
	r.undo = append(r.undo, func() { a.Description = old })
	return nil
}

func (r memAlerts) RaiseRiskScore(_ context.Context, _ repository.DBTX, id int64, score int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return errors.ErrAlertNotFound
	}
	old := a.RiskScore
	if score > old {
		a.RiskScore = score
	}
	r.undo = append(r.undo, func() { a.RiskScore = old })
	return nil
}

func (r memAlerts) UpdateStatus(_ context.Context, _ repository.DBTX, alert *models.FraudAlert, expected models.AlertStatus) error {
	if r.beforeUpdate != nil {
		r.beforeUpdate(alert.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alert.ID]
	if !ok || a.Status != expected {
		return errors.ErrConcurrentModification
	}
	old := *a
	*a = *cloneAlert(alert)
	a.CreatedAt = old.CreatedAt
	r.undo = append(r.undo, func() { *a = old })
	return nil
}

func (r memAlerts) List(ctx context.Context, q models.ListAlertsQuery) ([]*models.FraudAlert, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.readDeadline = ctx.Deadline()
	if r.listErr != nil {
		return nil, 0, r.listErr
	}
	var matched []*models.FraudAlert
	for _, a := range r.alerts {
		if q.Status != nil && a.Status != *q.Status {
			continue
		}
		if q.UserID != nil && a.UserID != *q.UserID {
			continue
		}
		matched = append(matched, cloneAlert(a))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	start := (q.Page - 1) * q.Limit
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// setAlertStatus changes an alert behind the service's back.
// sawDeadline reports and clears readDeadline.
func (s *memStore) sawDeadline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	saw := s.readDeadline
	s.readDeadline = false
	return saw
}

func (s *memStore) setAlertStatus(id int64, status models.AlertStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[id].Status = status
}

type memAudits struct{ *memStore }

func (r memAudits) Create(_ context.Context, _ repository.DBTX, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.auditErr != nil {
		return r.auditErr
	}
	r.nextAudit++
	log.ID = r.nextAudit
	log.CreatedAt = r.clock
	r.audits = append(r.audits, log)
	n := len(r.audits) - 1
	r.undo = append(r.undo, func() { r.audits = r.audits[:n] })
	return nil
}

func (r memAudits) GetByEntityID(_ context.Context, entityType string, entityID int64) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for _, l := range r.audits {
		if l.EntityType == entityType && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.AlertEvent
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, event notify.AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) types() []notify.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store    *memStore
	accounts *AccountServiceImpl
	ledger   *LedgerServiceImpl
	fraud    *FraudServiceImpl
	backfill *BackfillService
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	log := zerolog.Nop()
	notifier := &recordingNotifier{}

	accounts := NewAccountService(store, memAccounts{store}, memAudits{store}, log)
	fraud := NewFraudService(store, memTransactions{store}, memAlerts{store}, memAudits{store}, notifier, time.Second, log)
	fraud.now = store.now
	scorer := NewRiskService(memAccounts{store}, memTransactions{store}, log)
	ledger := NewLedgerService(store, memAccounts{store}, memTransactions{store}, memAudits{store}, scorer, fraud,
		LedgerConfig{MaxAmount: decimal.NewFromInt(1_000_000), Timeout: time.Second}, log)
	ledger.now = store.now
	backfill := NewBackfillService(memTransactions{store}, ledger, log)
	backfill.now = store.now

	return &fixture{
		store:    store,
		accounts: accounts,
		ledger:   ledger,
		fraud:    fraud,
		backfill: backfill,
		notifier: notifier,
	}
}

func (f *fixture) submit(accountID int64, t models.TransactionType, amount string) (*models.Transaction, error) {
	return f.ledger.SubmitTransaction(context.Background(), &models.SubmitTransactionRequest{
		AccountID:   accountID,
		Type:        t,
		Amount:      decimal.RequireFromString(amount),
		Description: "test " + string(t),
	})
}
