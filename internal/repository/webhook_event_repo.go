package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/marketplace/internal/models"
)

type WebhookEventRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepo(pool *pgxpool.Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

// CreateTx stores a verified delivery. Returns created=false when the
// (provider, provider_event_id) pair was already recorded.
func (r *WebhookEventRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.WebhookEvent) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO webhook_events (id, provider, provider_event_id, event_type, order_id, provider_transaction_id, amount, currency, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
		RETURNING created_at
	`, e.ID, e.Provider, e.ProviderEventID, e.EventType, e.OrderID, e.ProviderTransactionID, e.Amount, e.Currency, e.Payload).Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *WebhookEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	var processingError *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, provider, provider_event_id, event_type, order_id, provider_transaction_id, amount, currency, payload,
			processed_at, processing_error, created_at
		FROM webhook_events WHERE id = $1
	`, id).Scan(&e.ID, &e.Provider, &e.ProviderEventID, &e.EventType, &e.OrderID, &e.ProviderTransactionID, &e.Amount, &e.Currency, &e.Payload,
		&e.ProcessedAt, &processingError, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if processingError != nil {
		e.ProcessingError = *processingError
	}
	return &e, nil
}

// MarkProcessedTx stamps the event inside the settlement transaction.
func (r *WebhookEventRepo) MarkProcessedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE webhook_events SET processed_at = now(), processing_error = NULL WHERE id = $1
	`, id)
	return err
}

// MarkFailed records why processing stopped. Runs outside the rolled-back settlement transaction.
func (r *WebhookEventRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_events SET processing_error = $2 WHERE id = $1
	`, id, reason)
	return err
}
