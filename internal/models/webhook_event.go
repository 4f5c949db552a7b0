package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/marketplace/internal/money"
)

// WebhookEvent is a verified provider delivery, stored before processing so
// retries and duplicate deliveries are keyed on (provider, provider_event_id).
type WebhookEvent struct {
	ID                    uuid.UUID       `json:"id"`
	Provider              string          `json:"provider"`
	ProviderEventID       string          `json:"provider_event_id"`
	EventType             string          `json:"event_type"`
	OrderID               uuid.UUID       `json:"order_id"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Amount                money.Amount    `json:"amount"`
	Currency              string          `json:"currency"`
	Payload               json.RawMessage `json:"payload"`
	ProcessedAt           *time.Time      `json:"processed_at,omitempty"`
	ProcessingError       string          `json:"processing_error,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}
