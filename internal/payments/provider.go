// Package payments normalizes payment-provider webhooks into Events.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/inaiurai/marketplace/internal/money"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	// ErrIgnoredEvent is returned for verified deliveries that do not confirm a payment.
	ErrIgnoredEvent    = errors.New("event type not handled")
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// Event is a verified, provider-neutral payment confirmation.
type Event struct {
	Provider              string
	ProviderEventID       string
	EventType             string
	OrderID               uuid.UUID
	ProviderTransactionID string
	Amount                money.Amount
	Currency              string
	Raw                   json.RawMessage
}

// Provider verifies and parses one provider's webhook deliveries. body is the
// raw request body; r is passed for headers.
type Provider interface {
	Name() string
	ParseWebhook(ctx context.Context, r *http.Request, body []byte) (*Event, error)
}

// Registry maps provider names, as they appear in webhook URLs, to providers.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func parseOrderID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: order id %q", ErrInvalidPayload, s)
	}
	return id, nil
}

func parseAmount(value, currency string) (money.Amount, string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	amt, err := money.Parse(value, currency)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if amt <= 0 {
		return 0, "", fmt.Errorf("%w: non-positive amount %q", ErrInvalidPayload, value)
	}
	return amt, currency, nil
}
