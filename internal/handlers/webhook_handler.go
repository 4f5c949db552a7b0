package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/marketplace/internal/execution"
	"github.com/inaiurai/marketplace/internal/middleware"
	"github.com/inaiurai/marketplace/internal/models"
	"github.com/inaiurai/marketplace/internal/payments"
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ProviderLookup resolves the {provider} path segment.
type ProviderLookup interface {
	Get(name string) (payments.Provider, error)
	Names() []string
}

// WebhookEventStore persists verified deliveries.
type WebhookEventStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.WebhookEvent) (bool, error)
}

// Deduper is the optional Redis fast path for repeated deliveries.
type Deduper interface {
	Claim(ctx context.Context, provider, eventID string) (bool, error)
	Release(ctx context.Context, provider, eventID string) error
}

// EnqueueSettleFunc inserts the settlement job inside tx (river InsertTx).
type EnqueueSettleFunc func(ctx context.Context, tx pgx.Tx, args execution.SettlePaymentArgs) error

// WebhookHandler serves POST /webhooks/{provider}.
type WebhookHandler struct {
	Pool      TxBeginner
	Providers ProviderLookup
	Events    WebhookEventStore
	Enqueue   EnqueueSettleFunc
	Dedupe    Deduper
	Logger    *slog.Logger
}

type webhookResponse struct {
	Status         string `json:"status"`
	WebhookEventID string `json:"webhook_event_id,omitempty"`
}

// Receive verifies a provider delivery, stores it and enqueues settlement.
// Verify -> Dedupe -> Store + Enqueue (one tx) -> 202.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "provider")
	provider, err := h.Providers.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
		return
	}

	body := middleware.RawBodyFromCtx(ctx)
	if body == nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
			return
		}
	}

	ev, err := provider.ParseWebhook(ctx, r, body)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrInvalidSignature):
		h.Logger.Warn("webhook signature rejected", "provider", name, "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	case errors.Is(err, payments.ErrIgnoredEvent):
		h.Logger.Info("webhook ignored", "provider", name, "reason", err.Error())
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	case errors.Is(err, payments.ErrInvalidPayload):
		h.Logger.Warn("webhook payload rejected", "provider", name, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	default:
		// Verification call failed; a 5xx makes the provider redeliver.
		h.Logger.Error("webhook verification failed", "provider", name, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "verification unavailable"})
		return
	}

	log := h.Logger.With("provider", ev.Provider, "provider_event_id", ev.ProviderEventID, "order_id", ev.OrderID)

	if h.Dedupe != nil {
		first, err := h.Dedupe.Claim(ctx, ev.Provider, ev.ProviderEventID)
		if err != nil {
			log.Warn("webhook dedupe unavailable", "error", err)
		} else if !first {
			log.Info("duplicate webhook delivery")
			writeJSON(w, http.StatusOK, webhookResponse{Status: "duplicate"})
			return
		}
	}

	stored := &models.WebhookEvent{
		ID:                    uuid.New(),
		Provider:              ev.Provider,
		ProviderEventID:       ev.ProviderEventID,
		EventType:             ev.EventType,
		OrderID:               ev.OrderID,
		ProviderTransactionID: ev.ProviderTransactionID,
		Amount:                ev.Amount,
		Currency:              ev.Currency,
		Payload:               ev.Raw,
	}
	created, err := h.store(ctx, stored)
	if err != nil {
		log.Error("store webhook event", "error", err)
		if h.Dedupe != nil {
			if relErr := h.Dedupe.Release(ctx, ev.Provider, ev.ProviderEventID); relErr != nil {
				log.Warn("release webhook dedupe", "error", relErr)
			}
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !created {
		log.Info("duplicate webhook delivery")
		writeJSON(w, http.StatusOK, webhookResponse{Status: "duplicate"})
		return
	}

	log.Info("webhook accepted", "webhook_event_id", stored.ID, "amount", ev.Amount, "currency", ev.Currency)
	writeJSON(w, http.StatusAccepted, webhookResponse{Status: "accepted", WebhookEventID: stored.ID.String()})
}

// store inserts the event and its settlement job atomically. created is false
// for a delivery already on record.
func (h *WebhookHandler) store(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	tx, err := h.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	created, err := h.Events.CreateTx(ctx, tx, e)
	if err != nil || !created {
		return false, err
	}
	if err := h.Enqueue(ctx, tx, execution.SettlePaymentArgs{WebhookEventID: e.ID}); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListProviders handles GET /webhooks (public, no auth).
func (h *WebhookHandler) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"providers": h.Providers.Names()})
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /healthz.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
