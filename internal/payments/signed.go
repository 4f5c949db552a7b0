package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	SignedName = "signed"

	SignatureHeader = "X-Signature"

	signedPaymentCompleted = "payment.completed"
)

// Signed accepts first-party checkout notifications authenticated with an
// HMAC-SHA256 of the body: "X-Signature: sha256=<hex>".
type Signed struct {
	secret    []byte
	validator *Validator
}

func NewSigned(secret string, validator *Validator) *Signed {
	return &Signed{secret: []byte(secret), validator: validator}
}

func (s *Signed) Name() string { return SignedName }

type signedEvent struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

// Sign returns the header value for body. Used by checkout clients and tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *Signed) ParseWebhook(_ context.Context, r *http.Request, body []byte) (*Event, error) {
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("%w: signing secret not configured", ErrInvalidSignature)
	}
	got := strings.TrimSpace(r.Header.Get(SignatureHeader))
	want := Sign(string(s.secret), body)
	if got == "" || !hmac.Equal([]byte(got), []byte(want)) {
		return nil, ErrInvalidSignature
	}

	if err := s.validator.Validate("signed_event", body); err != nil {
		return nil, err
	}
	var ev signedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Type != signedPaymentCompleted {
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, ev.Type)
	}
	orderID, err := parseOrderID(ev.OrderID)
	if err != nil {
		return nil, err
	}
	amount, currency, err := parseAmount(ev.Amount, ev.Currency)
	if err != nil {
		return nil, err
	}
	txID := ev.TransactionID
	if txID == "" {
		txID = ev.ID
	}
	return &Event{
		Provider:              SignedName,
		ProviderEventID:       ev.ID,
		EventType:             ev.Type,
		OrderID:               orderID,
		ProviderTransactionID: txID,
		Amount:                amount,
		Currency:              currency,
		Raw:                   json.RawMessage(body),
	}, nil
}
