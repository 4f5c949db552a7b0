package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/plutov/paypal/v4"
)

const (
	PayPalName = "paypal"

	paypalCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
)

// PayPalVerifier is the part of *paypal.Client used to check signatures.
type PayPalVerifier interface {
	VerifyWebhookSignature(ctx context.Context, httpReq *http.Request, webhookID string) (*paypal.VerifyWebhookResponse, error)
}

type PayPal struct {
	verifier  PayPalVerifier
	webhookID string
	validator *Validator
}

// PayPalAPIBase returns the production API base when live, the sandbox otherwise.
func PayPalAPIBase(live bool) string {
	if live {
		return paypal.APIBaseLive
	}
	return paypal.APIBaseSandBox
}

// NewPayPalClient builds the SDK client and fetches its first OAuth token.
// The SDK only sends Authorization once a token is set, and refreshes it
// before expiry from then on.
func NewPayPalClient(ctx context.Context, clientID, secret, apiBase string) (*paypal.Client, error) {
	c, err := paypal.NewClient(clientID, secret, apiBase)
	if err != nil {
		return nil, err
	}
	if _, err := c.GetAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("paypal access token: %w", err)
	}
	return c, nil
}

func NewPayPal(verifier PayPalVerifier, webhookID string, validator *Validator) *PayPal {
	return &PayPal{verifier: verifier, webhookID: webhookID, validator: validator}
}

func (p *PayPal) Name() string { return PayPalName }

type paypalEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalCapture struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CustomID  string `json:"custom_id"`
	InvoiceID string `json:"invoice_id"`
	Amount    struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
}

// ParseWebhook asks PayPal to verify the transmission signature, then maps
// PAYMENT.CAPTURE.COMPLETED into an Event. custom_id (or invoice_id) carries our order id.
func (p *PayPal) ParseWebhook(ctx context.Context, r *http.Request, body []byte) (*Event, error) {
	// The SDK re-reads the body to build the verification request.
	r.Body = io.NopCloser(bytes.NewReader(body))
	resp, err := p.verifier.VerifyWebhookSignature(ctx, r, p.webhookID)
	if err != nil {
		return nil, fmt.Errorf("verify paypal webhook: %w", err)
	}
	if resp == nil || resp.VerificationStatus != "SUCCESS" {
		return nil, ErrInvalidSignature
	}
	return p.parse(body)
}

func (p *PayPal) parse(body []byte) (*Event, error) {
	if err := p.validator.Validate("paypal_event", body); err != nil {
		return nil, err
	}
	var ev paypalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.EventType != paypalCaptureCompleted {
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, ev.EventType)
	}
	if err := p.validator.Validate("paypal_capture", ev.Resource); err != nil {
		return nil, err
	}
	var capture paypalCapture
	if err := json.Unmarshal(ev.Resource, &capture); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if capture.Status != "COMPLETED" {
		return nil, fmt.Errorf("%w: capture status %s", ErrIgnoredEvent, capture.Status)
	}
	ref := capture.CustomID
	if ref == "" {
		ref = capture.InvoiceID
	}
	orderID, err := parseOrderID(ref)
	if err != nil {
		return nil, err
	}
	amount, currency, err := parseAmount(capture.Amount.Value, capture.Amount.CurrencyCode)
	if err != nil {
		return nil, err
	}
	return &Event{
		Provider:              PayPalName,
		ProviderEventID:       ev.ID,
		EventType:             ev.EventType,
		OrderID:               orderID,
		ProviderTransactionID: capture.ID,
		Amount:                amount,
		Currency:              currency,
		Raw:                   json.RawMessage(body),
	}, nil
}
