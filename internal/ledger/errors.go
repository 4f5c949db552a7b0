package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound aborts settlement: the order id did not resolve.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateSettlement is returned when the order has already been settled.
	// No ledger rows are written for the second attempt.
	ErrDuplicateSettlement = errors.New("order already settled")
	ErrInvalidAmount       = errors.New("settlement amount must be positive")
	ErrVendorMismatch      = errors.New("vendor user does not match order vendor")
	ErrCurrencyMismatch    = errors.New("currency does not match order")
	// ErrEscrowAccountNotFound is returned by reads for vendors that have never been settled.
	ErrEscrowAccountNotFound = errors.New("escrow account not found")
)

// PersistenceError wraps a storage failure during settlement. Op names the step.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
