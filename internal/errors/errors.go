package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Domain errors for the ledger, risk and fraud alert components
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrAlertNotFound          = errors.New("fraud alert not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrCounterpartyNotFound   = errors.New("counterparty not found")
	ErrDuplicateAlert         = errors.New("alert already exists for transaction")
	ErrAlertAlreadyClosed     = errors.New("alert already closed")
	ErrInvalidTransition      = errors.New("invalid alert status transition")
	ErrConcurrentModification = errors.New("resource modified concurrently")
	ErrUnauthorized           = errors.New("actor not authorized for this operation")
	ErrTimeout                = errors.New("operation timed out")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// PersistenceError wraps a storage failure with the operation that caused it.
type PersistenceError struct {
	Operation string
	Cause     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during '%s': %v", e.Operation, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// NewPersistenceError classifies err. Deadlines and retryable postgres
// failures become ErrTimeout so callers can report them as transient.
func NewPersistenceError(operation string, cause error) error {
	if IsTransient(cause) {
		return fmt.Errorf("%s: %w", operation, ErrTimeout)
	}
	return &PersistenceError{
		Operation: operation,
		Cause:     cause,
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrCounterpartyNotFound)
}

func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func IsPersistenceError(err error) bool {
	var persistenceErr *PersistenceError
	return errors.As(err, &persistenceErr)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsConflict reports business conflicts that map to 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrAlertAlreadyClosed) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateAlert)
}

// IsTransient reports timeouts, serialization failures and deadlocks.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "57014":
			return true
		}
	}
	return false
}

// IsUniqueViolation reports a postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
