package domain

import (
	"errors"
	"fmt"
)

// Errors shared by the ledger, the reservation store and the engine.
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrVariantNotFound     = errors.New("variant not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidInput        = errors.New("invalid input")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReconciliation      = errors.New("stock and order state diverged")
)

// InsufficientStockError carries the variant and the quantities that failed the check.
type InsufficientStockError struct {
	Key       VariantKey
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product=%s size=%s color=%s: requested=%d available=%d",
		e.Key.ProductID, e.Key.USSize, e.Key.Color, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ReconciliationError means the ledger and the order state no longer agree.
// It must reach an operator and is never retried automatically.
type ReconciliationError struct {
	TransactionID string
	Key           VariantKey
	Reason        string
	Err           error
}

func (e *ReconciliationError) Error() string {
	msg := fmt.Sprintf("reconciliation required: tx=%s product=%s size=%s color=%s: %s",
		e.TransactionID, e.Key.ProductID, e.Key.USSize, e.Key.Color, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReconciliationError) Is(target error) bool {
	return target == ErrReconciliation
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// InvalidInputf builds an error wrapping ErrInvalidInput.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
