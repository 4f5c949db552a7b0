package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/marketplace/internal/money"
)

// Order and payment status values. Settlement only drives PENDING -> COMPLETED.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusCompleted = "COMPLETED"

	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
)

type Order struct {
	ID          uuid.UUID    `json:"id"`
	VendorID    uuid.UUID    `json:"vendor_id"`
	UserID      uuid.UUID    `json:"user_id"`
	TotalAmount money.Amount `json:"total_amount"`
	Currency    string       `json:"currency"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Payment is one-to-one with Order. TransactionID is the provider's reference
// (PayPal capture id) and Metadata holds the raw provider payload.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	Amount        money.Amount    `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	Provider      string          `json:"provider"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Vendor struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
