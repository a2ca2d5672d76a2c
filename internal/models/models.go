package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// Privileged roles may review and advance fraud alerts.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleAgent
}

type Account struct {
	ID            int64           `json:"id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Role          Role            `json:"role"`
	CreatedAt     time.Time       `json:"created_at"`
	LastLogin     *time.Time      `json:"last_login,omitempty"`
}

type TransactionType string

const (
	TypeDeposit          TransactionType = "deposit"
	TypeWithdrawal       TransactionType = "withdrawal"
	TypeTransfer         TransactionType = "transfer"
	TypePayment          TransactionType = "payment"
	TypeMobileDeposit    TransactionType = "mobile_deposit"
	TypeMobileWithdrawal TransactionType = "mobile_withdrawal"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeTransfer, TypePayment, TypeMobileDeposit, TypeMobileWithdrawal:
		return true
	}
	return false
}

// Debit reports whether the type takes money out of the payer's account.
func (t TransactionType) Debit() bool {
	switch t {
	case TypeWithdrawal, TypeTransfer, TypePayment, TypeMobileWithdrawal:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusFlagged   TransactionStatus = "flagged"
)

type Transaction struct {
	ID             int64             `json:"id"`
	AccountID      int64             `json:"account_id"`
	CounterpartyID *int64            `json:"counterparty_id,omitempty"`
	Type           TransactionType   `json:"type"`
	Amount         decimal.Decimal   `json:"amount"`
	Description    string            `json:"description"`
	Reference      string            `json:"reference"`
	IdempotencyKey *string           `json:"-"`
	Status         TransactionStatus `json:"status"`
	RiskScore      *int              `json:"risk_score"`
	Reported       bool              `json:"reported"`
	CreatedAt      time.Time         `json:"created_at"`
}

// RiskHistory holds aggregates over an account's transactions strictly
// prior to the one being scored.
type RiskHistory struct {
	RecentCount int
	PriorCount  int
	MeanAmount  decimal.Decimal
}

type AlertStatus string

const (
	AlertNew       AlertStatus = "new"
	AlertReviewing AlertStatus = "reviewing"
	AlertResolved  AlertStatus = "resolved"
	AlertDismissed AlertStatus = "dismissed"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertNew, AlertReviewing, AlertResolved, AlertDismissed:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertDismissed
}

// CanTransition encodes new -> reviewing -> {resolved, dismissed} with the
// new -> {resolved, dismissed} shortcut.
func (s AlertStatus) CanTransition(to AlertStatus) bool {
	switch s {
	case AlertNew:
		return to == AlertReviewing || to == AlertResolved || to == AlertDismissed
	case AlertReviewing:
		return to == AlertResolved || to == AlertDismissed
	}
	return false
}

type AlertSource string

const (
	AlertSourceAuto       AlertSource = "auto"
	AlertSourceUserReport AlertSource = "user_report"
)

type FraudAlert struct {
	ID            int64       `json:"id"`
	UserID        int64       `json:"user_id"`
	TransactionID int64       `json:"transaction_id"`
	Description   string      `json:"description"`
	Status        AlertStatus `json:"status"`
	RiskScore     int         `json:"risk_score"`
	Source        AlertSource `json:"source"`
	Resolution    *string     `json:"resolution,omitempty"`
	ResolvedBy    *int64      `json:"resolved_by,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty"`
}

type AuditLog struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Action     string          `json:"action"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	OldValue   json.RawMessage `json:"old_value"`
	NewValue   json.RawMessage `json:"new_value"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	AuditActionCreate = "CREATE"
	AuditActionDebit  = "DEBIT"
	AuditActionCredit = "CREDIT"
	AuditActionStatus = "STATUS_CHANGE"
	AuditActionReport = "REPORT"
	AuditActionRaise  = "RISK_RAISED"
)

const (
	EntityTypeAccount     = "ACCOUNT"
	EntityTypeTransaction = "TRANSACTION"
	EntityTypeAlert       = "FRAUD_ALERT"
)

type AccountBalanceSnapshot struct {
	ID      int64           `json:"id"`
	Balance decimal.Decimal `json:"balance"`
}

// AlertRiskSnapshot is the audit payload for an alert whose score was
// raised after a later automatic flag.
type AlertRiskSnapshot struct {
	ID        int64 `json:"id"`
	RiskScore int   `json:"risk_score"`
}

type AlertStatusSnapshot struct {
	ID         int64       `json:"id"`
	Status     AlertStatus `json:"status"`
	Resolution *string     `json:"resolution,omitempty"`
}

// SubmitTransactionRequest is the ledger input. CounterpartyRef is the
// counterparty's account number and is only meaningful for transfers.
type SubmitTransactionRequest struct {
	AccountID       int64
	Type            TransactionType
	Amount          decimal.Decimal
	Description     string
	CounterpartyRef string
	IdempotencyKey  string
}

type CreateTransactionRequest struct {
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	CounterpartyRef string          `json:"counterparty_ref,omitempty"`
}

type CreateAccountRequest struct {
	Role Role `json:"role"`
}

type ReportTransactionRequest struct {
	Reason string `json:"reason"`
}

type UpdateAlertRequest struct {
	Status     AlertStatus `json:"status"`
	Resolution string      `json:"resolution,omitempty"`
}

type TransactionSort string

const (
	SortByDate   TransactionSort = "date"
	SortByAmount TransactionSort = "amount"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

type ListTransactionsQuery struct {
	AccountID int64
	Page      int
	Limit     int
	Sort      TransactionSort
	Order     SortOrder
}

type ListAlertsQuery struct {
	Status *AlertStatus
	UserID *int64
	Page   int
	Limit  int
}

type TransactionPage struct {
	Items []*Transaction `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

type AlertPage struct {
	Items []*FraudAlert `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
