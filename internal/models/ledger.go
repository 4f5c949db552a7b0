package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/marketplace/internal/money"
)

// Transaction types written by settlement.
const (
	TransactionCommissionPlatform = "COMMISSION_PLATFORM"
	TransactionCommissionSeller   = "COMMISSION_SELLER"

	TransactionStatusCompleted = "COMPLETED"
)

// Escrow transaction types. Withdrawals are written by the payout flow.
const (
	EscrowTxDeposit    = "DEPOSIT"
	EscrowTxWithdrawal = "WITHDRAWAL"

	EscrowTxStatusCompleted = "COMPLETED"
)

// Transaction is an append-only platform ledger entry.
type Transaction struct {
	ID          uuid.UUID    `json:"id"`
	Type        string       `json:"type"`
	Amount      money.Amount `json:"amount"`
	Currency    string       `json:"currency"`
	Status      string       `json:"status"`
	ReferenceID uuid.UUID    `json:"reference_id"`
	UserID      *uuid.UUID   `json:"user_id,omitempty"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"created_at"`
}

type EscrowAccount struct {
	ID        uuid.UUID    `json:"id"`
	VendorID  uuid.UUID    `json:"vendor_id"`
	Balance   money.Amount `json:"balance"`
	Currency  string       `json:"currency"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type EscrowTransaction struct {
	ID              uuid.UUID    `json:"id"`
	EscrowAccountID uuid.UUID    `json:"escrow_account_id"`
	OrderID         uuid.UUID    `json:"order_id"`
	Amount          money.Amount `json:"amount"`
	Type            string       `json:"type"`
	Status          string       `json:"status"`
	Description     string       `json:"description"`
	BalanceAfter    money.Amount `json:"balance_after"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Settlement is the idempotency record claimed once per order.
type Settlement struct {
	OrderID         uuid.UUID `json:"order_id"`
	PaymentID       uuid.UUID `json:"payment_id"`
	ProviderEventID string    `json:"provider_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
